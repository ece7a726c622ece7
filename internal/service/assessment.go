package service

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/domain"
)

// AssessmentEvaluator computes a guideline's assessments in declaration order.
type AssessmentEvaluator struct {
	functions domain.FunctionResolver
	policy    domain.UndeclaredPolicy
	logger    *logrus.Logger
}

// NewAssessmentEvaluator creates an evaluator. Function-backed assessments are resolved
// through functions.
func NewAssessmentEvaluator(functions domain.FunctionResolver, policy domain.UndeclaredPolicy, logger *logrus.Logger) *AssessmentEvaluator {
	if logger == nil {
		logger = discardLogger()
	}
	return &AssessmentEvaluator{functions: functions, policy: policy, logger: logger}
}

// AssessmentResult wraps the assessment stage's evaluation context.
type AssessmentResult struct {
	Context *domain.EvaluationContext
}

// Completed reports whether every assessment evaluated without error.
func (r *AssessmentResult) Completed() bool {
	return len(r.Context.Errors()) == 0
}

// Records returns the assessment records in declaration order.
func (r *AssessmentResult) Records() []*domain.Record {
	return r.Context.RecordList()
}

// Assess evaluates assessments over the evaluated variable records. Each assessment sees
// the variables plus every assessment before it. A failed assessment is recorded and
// joins the pool without a value; any error other than a variable evaluation failure
// aborts the stage.
func (e *AssessmentEvaluator) Assess(assessments []*domain.Assessment, evaluated []*domain.Record, persona domain.Persona) (*AssessmentResult, error) {
	ctx := domain.NewEvaluationContext("assessment")

	pool := make([]*domain.Record, 0, len(evaluated)+len(assessments))
	pool = append(pool, evaluated...)

	for _, assessment := range assessments {
		record, deps, err := e.derive(assessment, pool)
		if err != nil {
			var vee *domain.VariableEvaluationError
			if !errors.As(err, &vee) {
				return nil, fmt.Errorf("assessment %s: %w", assessment.ID, err)
			}
			e.logger.WithError(err).WithField("assessment", assessment.ID).Warn("Assessment failed, continuing")
			pool = append(pool, record)
			record.ResolveNarrative(persona, scopeOf(pool))
			ctx.AddUnevaluated(record, err)
			continue
		}

		pool = append(pool, record)
		record.ResolveNarrative(persona, scopeOf(pool))
		ctx.AddEvaluated(record, deps)

		e.logger.WithFields(logrus.Fields{
			"assessment": assessment.ID,
			"value":      representation(record.Value()),
		}).Debug("Assessment evaluated")
	}

	result := &AssessmentResult{Context: ctx}
	e.logger.WithFields(logrus.Fields{
		"assessments": ctx.Len(),
		"failed":      len(ctx.Errors()),
	}).Info("Completed assessment evaluation")
	return result, nil
}

func (e *AssessmentEvaluator) derive(a *domain.Assessment, pool []*domain.Record) (*domain.Record, []*domain.Record, error) {
	if a.Function != "" {
		return evaluateFunction(a, pool, e.functions)
	}
	return evaluateExpression(a, pool, e.policy)
}

// evaluateExpression computes an expression-backed derived record over pool. Failures
// are wrapped in a VariableEvaluationError for the derived variable.
func evaluateExpression(a *domain.Assessment, pool []*domain.Record, policy domain.UndeclaredPolicy) (*domain.Record, []*domain.Record, error) {
	if a.Expression == nil {
		return domain.NewRecord(a.Variable, nil), nil, domain.NewVariableEvaluationError(a.ID,
			domain.NewVariableError(domain.KindInvalidExpression, a.ID, nil, "%s has no expression", a.ID))
	}

	result, err := a.Expression.Evaluate(pool, policy)
	if err != nil {
		return domain.NewRecord(a.Variable, nil), nil, domain.NewVariableEvaluationError(a.ID, err)
	}

	var values []*domain.Value
	if result.Value != nil {
		values = []*domain.Value{result.Value}
	}
	return domain.NewRecord(a.Variable, values), result.Dependencies, nil
}

// evaluateFunction computes a function-backed derived record. The function receives
// the current value of every record in pool. A nil result, a returned error or a panic
// fails the variable; an unknown function name is a configuration error.
func evaluateFunction(a *domain.Assessment, pool []*domain.Record, functions domain.FunctionResolver) (record *domain.Record, deps []*domain.Record, err error) {
	var fn domain.EvaluationFunc
	if functions != nil {
		fn, _ = functions.Lookup(a.Function)
	}
	if fn == nil {
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrUnknownFunction, a.Function)
	}

	inputs := make(map[string]*domain.Value, len(pool))
	for _, r := range pool {
		if v := r.Value(); v != nil {
			inputs[r.ID()] = v
			deps = append(deps, r)
		}
	}

	empty := domain.NewRecord(a.Variable, nil)
	out, panicked := callFunction(fn, inputs)
	switch res := out.(type) {
	case nil:
		if panicked != nil {
			return empty, nil, domain.NewVariableEvaluationError(a.ID, panicked)
		}
		return empty, nil, domain.NewVariableEvaluationError(a.ID,
			fmt.Errorf("function %s returned no result", a.Function))
	case error:
		return empty, nil, domain.NewVariableEvaluationError(a.ID, res)
	}

	sources := make([]interface{}, 0, len(deps))
	for _, d := range deps {
		sources = append(sources, d)
	}
	v, err := domain.NewValue(out, domain.WithSource(sources...))
	if err != nil {
		return empty, nil, domain.NewVariableEvaluationError(a.ID, err)
	}
	return domain.NewRecord(a.Variable, []*domain.Value{v}), deps, nil
}

func callFunction(fn domain.EvaluationFunc, inputs map[string]*domain.Value) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("function panicked: %v", r)
		}
	}()
	return fn(inputs), nil
}

func scopeOf(records []*domain.Record) map[string]*domain.Record {
	scope := make(map[string]*domain.Record, len(records))
	for _, r := range records {
		if _, ok := scope[r.ID()]; !ok {
			scope[r.ID()] = r
		}
	}
	return scope
}

func representation(v *domain.Value) string {
	if v == nil {
		return ""
	}
	return v.Representation()
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
