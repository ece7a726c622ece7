package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/domain"
)

// EligibilityEvaluator runs a guideline's eligibility criteria.
type EligibilityEvaluator struct {
	criteria []*domain.Assessment
	policy   domain.UndeclaredPolicy
	logger   *logrus.Logger
}

// NewEligibilityEvaluator creates an evaluator over criteria.
func NewEligibilityEvaluator(criteria []*domain.Assessment, policy domain.UndeclaredPolicy, logger *logrus.Logger) *EligibilityEvaluator {
	if logger == nil {
		logger = discardLogger()
	}
	return &EligibilityEvaluator{criteria: criteria, policy: policy, logger: logger}
}

// EligibilityResult wraps the eligibility stage's evaluation context.
type EligibilityResult struct {
	Context *domain.EvaluationContext
}

// IsEligible reports whether every criterion evaluated to boolean true.
func (r *EligibilityResult) IsEligible() bool {
	return len(r.Failed()) == 0
}

// Failed returns the criteria that did not evaluate to true.
func (r *EligibilityResult) Failed() []*domain.EvaluatedRecord {
	var out []*domain.EvaluatedRecord
	for _, er := range r.Context.Records() {
		if b, ok := boolValue(er.Value()); !ok || !b {
			out = append(out, er)
		}
	}
	return out
}

// Evaluate runs every criterion over the subject's records. If any criterion fails to
// evaluate, the failures are returned together and no result is produced.
func (e *EligibilityEvaluator) Evaluate(hc *domain.HealthContext) (*EligibilityResult, error) {
	if len(e.criteria) == 0 {
		return nil, fmt.Errorf("no eligibility criteria to evaluate")
	}

	ctx := domain.NewEvaluationContext("eligibility")
	for _, criterion := range e.criteria {
		record, deps, err := evaluateExpression(criterion, hc.Records, e.policy)
		if err != nil {
			e.logger.WithError(err).WithField("criterion", criterion.ID).Warn("Eligibility criterion failed")
			ctx.AddUnevaluated(record, err)
			continue
		}
		record.ResolveNarrative(hc.Persona, scopeOf(hc.Records))
		ctx.AddEvaluated(record, deps)
	}

	if errs := ctx.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("evaluating eligibility: %w", domain.NewMultiError(errs...))
	}

	result := &EligibilityResult{Context: ctx}
	e.logger.WithFields(logrus.Fields{
		"subject":  hc.SubjectID,
		"criteria": ctx.Len(),
		"eligible": result.IsEligible(),
	}).Info("Completed eligibility evaluation")
	return result, nil
}

func boolValue(v *domain.Value) (bool, bool) {
	if v == nil {
		return false, false
	}
	return v.Bool()
}
