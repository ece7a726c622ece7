package domain

import (
	"errors"
	"fmt"

	"github.com/concord-cpg-engine/pkg/expr"
)

// Expression is a compiled guideline expression over `$id[.accessor]` references.
// It holds no per-run state and may be shared by concurrent evaluations.
type Expression struct {
	text    string
	tags    []expr.Tag
	program *expr.Program
}

// ExpressionResult is the outcome of one evaluation.
type ExpressionResult struct {
	// Value is nil when the expression produced null or an empty string.
	Value *Value
	// Names is the binding the expression was evaluated with.
	Names map[string]interface{}
	// Dependencies are the resolved records, in reference order.
	Dependencies []*Record
	// Undeclared lists references bound to null under NULL_AND_CONTINUE.
	Undeclared []string
}

// NewExpression compiles text. It must reference at least one variable.
func NewExpression(text string) (*Expression, error) {
	tags := expr.Tags(text)
	if len(tags) == 0 {
		return nil, &ExpressionError{Kind: KindInvalidExpression, Expression: text,
			Err: errors.New("expression references no variables")}
	}
	program, err := expr.Compile(text)
	if err != nil {
		return nil, &ExpressionError{Kind: KindInvalidExpression, Expression: text, Err: err}
	}
	return &Expression{text: text, tags: tags, program: program}, nil
}

// MustExpression is like NewExpression but panics on error.
func MustExpression(text string) *Expression {
	e, err := NewExpression(text)
	if err != nil {
		panic(err)
	}
	return e
}

// Text returns the expression source.
func (e *Expression) Text() string {
	return e.text
}

// Identifiers returns the distinct base ids referenced.
func (e *Expression) Identifiers() []string {
	seen := map[string]bool{}
	var ids []string
	for _, t := range e.tags {
		if !seen[t.ID] {
			seen[t.ID] = true
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (e *Expression) String() string {
	return e.text
}

// Evaluate binds the references to records and evaluates. Unresolved references are
// handled according to policy.
func (e *Expression) Evaluate(records []*Record, policy UndeclaredPolicy) (*ExpressionResult, error) {
	byID := indexRecords(records)
	result := &ExpressionResult{Names: make(map[string]interface{}, len(e.tags))}

	resolved := map[string]bool{}
	for _, tag := range e.tags {
		rec, ok := byID[tag.ID]
		if !ok {
			if policy != NULL_AND_CONTINUE {
				return nil, &ExpressionError{Kind: KindUndeclaredVariable, Expression: e.text, Token: tag.Raw}
			}
			result.Names[tag.Name] = nil
			if !resolved[tag.ID] {
				resolved[tag.ID] = true
				result.Undeclared = append(result.Undeclared, tag.ID)
			}
			continue
		}

		val, err := accessorValue(tag.Name, byID)
		if err != nil {
			return nil, &ExpressionError{Kind: KindExpressionEvaluationError, Expression: e.text,
				Token: tag.Raw, Names: result.Names, Err: err}
		}
		result.Names[tag.Name] = val
		if !resolved[tag.ID] {
			resolved[tag.ID] = true
			result.Dependencies = append(result.Dependencies, rec)
		}
	}

	out, err := e.program.Eval(result.Names)
	if err != nil {
		return nil, &ExpressionError{Kind: KindExpressionEvaluationError, Expression: e.text,
			Names: result.Names, Err: err}
	}

	if out != nil && out != "" {
		sources := make([]interface{}, 0, len(result.Dependencies))
		for _, rec := range result.Dependencies {
			sources = append(sources, rec)
		}
		v, err := NewValue(out, WithSource(sources...))
		if err != nil {
			return nil, &ExpressionError{Kind: KindExpressionEvaluationError, Expression: e.text,
				Names: result.Names, Err: err}
		}
		result.Value = v
	}
	return result, nil
}

// EvaluateRecommendation evaluates an applicability expression for the recommendation
// owner. Every reference must be an evaluated assessment holding a boolean; all
// problems are reported together before anything is evaluated. The result must be
// boolean.
func (e *Expression) EvaluateRecommendation(owner string, assessments []*Record) (*ExpressionResult, error) {
	byID := indexRecords(assessments)

	var errs []error
	for _, id := range e.Identifiers() {
		rec, ok := byID[id]
		if !ok {
			errs = append(errs, &ExpressionError{Kind: KindUndeclaredVariable, Expression: e.text, Token: "$" + id})
			continue
		}
		v := rec.Value()
		if v == nil {
			errs = append(errs, NewVariableError(KindMissingValue, id, nil, "assessment %s has no value", id))
			continue
		}
		if _, ok := v.Bool(); !ok {
			errs = append(errs, NewVariableError(KindTypeMismatch, id, v.Payload(),
				"assessment %s is %v, not a boolean", id, v.Payload()))
		}
	}
	if len(errs) > 0 {
		return nil, NewVariableEvaluationError(owner, errs...)
	}

	result, err := e.Evaluate(assessments, FAIL_FAST)
	if err != nil {
		return nil, NewVariableEvaluationError(owner, err)
	}
	if result.Value == nil {
		return nil, NewVariableEvaluationError(owner, &ExpressionError{Kind: KindExpressionEvaluationError,
			Expression: e.text, Names: result.Names, Err: errors.New("result is null, not a boolean")})
	}
	if _, ok := result.Value.Bool(); !ok {
		return nil, NewVariableEvaluationError(owner, &ExpressionError{Kind: KindExpressionEvaluationError,
			Expression: e.text, Names: result.Names,
			Err: fmt.Errorf("result %v is not a boolean", result.Value.Payload())})
	}
	return result, nil
}

// indexRecords maps id to record; the first record with an id wins.
func indexRecords(records []*Record) map[string]*Record {
	byID := make(map[string]*Record, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		if _, ok := byID[r.ID()]; !ok {
			byID[r.ID()] = r
		}
	}
	return byID
}

// accessorValue resolves a dotted name such as `ldl.count` against records.
// count is the number of current values, date the newest value's date, and a bare id
// the newest payload with codes reduced to system|code.
func accessorValue(name string, records map[string]*Record) (interface{}, error) {
	tags := expr.Tags("$" + name)
	if len(tags) != 1 {
		return nil, fmt.Errorf("invalid reference %q", name)
	}
	tag := tags[0]

	rec, ok := records[tag.ID]
	if !ok {
		return nil, fmt.Errorf("%w: $%s", ErrUndeclaredVariable, tag.ID)
	}
	values := rec.Values()

	switch tag.Accessor {
	case "count":
		return float64(len(values)), nil
	case "date":
		if v := values.Latest(); v != nil {
			return v.Date(), nil
		}
		return nil, nil
	case "", "value":
		if v := values.Latest(); v != nil {
			return v.EvaluationValue(), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported accessor .%s on $%s", tag.Accessor, tag.ID)
}
