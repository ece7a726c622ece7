package service

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/domain"
)

// RecommendationEvaluator decides which recommendations apply to a subject.
type RecommendationEvaluator struct {
	policy domain.UndeclaredPolicy
	logger *logrus.Logger
}

// NewRecommendationEvaluator creates an evaluator. policy governs compliance
// expressions; applicability expressions always fail fast.
func NewRecommendationEvaluator(policy domain.UndeclaredPolicy, logger *logrus.Logger) *RecommendationEvaluator {
	if logger == nil {
		logger = discardLogger()
	}
	return &RecommendationEvaluator{policy: policy, logger: logger}
}

// RecommendationResult is the outcome for one recommendation.
type RecommendationResult struct {
	Recommendation *domain.Recommendation
	// Record holds the applicability as its value; it is empty when evaluation failed.
	Record              *domain.Record
	Applies             bool
	Compliance          *domain.Value
	Narrative           string
	ComplianceNarrative string
	Err                 error
	ComplianceErr       error
	Dependencies        []*domain.Record
}

// ID returns the recommendation id.
func (r *RecommendationResult) ID() string {
	return r.Recommendation.ID
}

// RecommendationSet holds every recommendation outcome, applying ones first.
type RecommendationSet struct {
	Context *domain.EvaluationContext
	Results []*RecommendationResult
}

// Applied returns the recommendations that apply.
func (s *RecommendationSet) Applied() []*RecommendationResult {
	var out []*RecommendationResult
	for _, r := range s.Results {
		if r.Applies {
			out = append(out, r)
		}
	}
	return out
}

// Errors returns the per-recommendation failures.
func (s *RecommendationSet) Errors() []error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// Evaluate runs each recommendation against the assessment records. Compliance
// expressions see the variable records. A failing recommendation never stops the others.
func (e *RecommendationEvaluator) Evaluate(recommendations []*domain.Recommendation, assessments, variables []*domain.Record, persona domain.Persona) *RecommendationSet {
	ctx := domain.NewEvaluationContext("recommendation")
	scope := scopeOf(append(append([]*domain.Record{}, variables...), assessments...))

	results := make([]*RecommendationResult, 0, len(recommendations))
	for _, rec := range recommendations {
		res := e.evaluateOne(rec, assessments, persona)

		if rec.Compliance != nil {
			cr, err := rec.Compliance.Evaluate(variables, e.policy)
			if err != nil {
				res.ComplianceErr = err
				e.logger.WithError(err).WithField("recommendation", rec.ID).Warn("Compliance evaluation failed")
			} else {
				res.Compliance = cr.Value
			}
		}

		res.Narrative = res.Record.ResolveNarrative(persona, scope)
		if rec.Compliance != nil {
			res.ComplianceNarrative = res.Record.ResolveComplianceNarrative(persona, res.Compliance, scope)
		}

		if res.Err != nil {
			ctx.AddUnevaluated(res.Record, res.Err)
		} else {
			ctx.AddEvaluated(res.Record, res.Dependencies)
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Applies && !results[j].Applies
	})

	set := &RecommendationSet{Context: ctx, Results: results}
	e.logger.WithFields(logrus.Fields{
		"recommendations": len(results),
		"applied":         len(set.Applied()),
		"failed":          len(set.Errors()),
	}).Info("Completed recommendation evaluation")
	return set
}

func (e *RecommendationEvaluator) evaluateOne(rec *domain.Recommendation, assessments []*domain.Record, persona domain.Persona) *RecommendationResult {
	res := &RecommendationResult{Recommendation: rec}

	if applies, ok := rec.AppliesWithoutExpression(persona); ok {
		res.Applies = applies
		res.Record = domain.NewRecord(rec.Variable, []*domain.Value{domain.MustValue(applies)})
		return res
	}

	if rec.Expression == nil {
		res.Err = domain.NewVariableEvaluationError(rec.ID,
			domain.NewVariableError(domain.KindInvalidExpression, rec.ID, nil,
				"recommendation %s of type %s has no applicability expression", rec.ID, rec.Type))
		res.Record = domain.NewRecord(rec.Variable, nil)
		return res
	}

	result, err := rec.Expression.EvaluateRecommendation(rec.ID, assessments)
	if err != nil {
		e.logger.WithError(err).WithField("recommendation", rec.ID).Warn("Recommendation could not be evaluated")
		res.Err = err
		res.Record = domain.NewRecord(rec.Variable, nil)
		return res
	}

	res.Applies, _ = result.Value.Bool()
	res.Dependencies = result.Dependencies
	res.Record = domain.NewRecord(rec.Variable, []*domain.Value{result.Value})
	return res
}
