package domain

import (
	"fmt"
	"time"

	"github.com/concord-cpg-engine/pkg/expr"
)

// Variable is the immutable definition of one data element of a guideline.
// Do not modify a Variable after it has been shared with records.
type Variable struct {
	ID             string
	Title          string
	Description    string
	Codes          []Code
	Category       Category
	Type           ValueType
	UserAttestable bool
	Required       bool
	Reconcile      bool
	Question       string
	Filter         *ValueFilter
	Validator      *Validator
	Narrative      *Narrative
}

// Equal is identity by id.
func (v *Variable) Equal(other *Variable) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.ID == other.ID
}

// Matches reports code overlap. It is used only to cross-reference subject data to
// guideline definitions.
func (v *Variable) Matches(codes []Code) bool {
	return CodesOverlap(v.Codes, codes)
}

// NarrativeVariables returns the ids the variable's narrative references, self excluded.
func (v *Variable) NarrativeVariables() []string {
	if v.Narrative == nil {
		return nil
	}
	return v.Narrative.Variables()
}

// DisplayName is the title, or the id when untitled.
func (v *Variable) DisplayName() string {
	if v.Title != "" {
		return v.Title
	}
	return v.ID
}

// ValueFilter narrows a record's values before they are used.
type ValueFilter struct {
	// Before keeps values at least this many days old.
	Before int
	// After keeps values at most this many days old.
	After int
	// Count caps the selection to the newest N values.
	Count int
	// Expression is a predicate applied as `$value <Expression>`.
	Expression string
	// Upper keeps the newest N values; it wins over Lower and Count.
	Upper int
	// Lower keeps the oldest N values; it wins over Count.
	Lower int

	program *expr.Program
}

// NewValueFilter creates a ValueFilter. Zero means unset for every window.
func NewValueFilter(before, after, count int, valueExpr string, upper, lower int) (*ValueFilter, error) {
	if before < 0 || after < 0 || count < 0 || upper < 0 || lower < 0 {
		return nil, fmt.Errorf("%w: filter windows must not be negative", ErrInvalidExpression)
	}
	if before > 0 && after > 0 && before >= after {
		return nil, fmt.Errorf("%w: filter before (%d days) must be less than after (%d days)",
			ErrInvalidExpression, before, after)
	}

	f := &ValueFilter{
		Before:     before,
		After:      after,
		Count:      count,
		Expression: valueExpr,
		Upper:      upper,
		Lower:      lower,
	}
	if valueExpr != "" {
		p, err := expr.Compile("$value " + valueExpr)
		if err != nil {
			return nil, fmt.Errorf("%w: filter expression: %v", ErrInvalidExpression, err)
		}
		f.program = p
	}
	return f, nil
}

// Apply returns the filtered view of values, which must be ordered newest first.
// Values whose predicate fails to evaluate are excluded.
func (f *ValueFilter) Apply(values ValueList, now time.Time) ValueList {
	out := make(ValueList, 0, len(values))
	for _, v := range values {
		if f.After > 0 && v.Date().Before(now.AddDate(0, 0, -f.After)) {
			continue
		}
		if f.Before > 0 && v.Date().After(now.AddDate(0, 0, -f.Before)) {
			continue
		}
		if f.program != nil {
			ok, err := f.program.EvalBool(map[string]interface{}{"value": v.EvaluationValue()})
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, v)
	}

	switch {
	case f.Upper > 0:
		if len(out) > f.Upper {
			out = out[:f.Upper]
		}
	case f.Lower > 0:
		if len(out) > f.Lower {
			out = out[len(out)-f.Lower:]
		}
	case f.Count > 0:
		if len(out) > f.Count {
			out = out[:f.Count]
		}
	}
	return out
}

// Validator holds the plausibility and panel-consistency predicates of a variable.
type Validator struct {
	Plausible string
	Panel     string

	plausible *expr.Program
	panel     *expr.Program
	peers     []string
}

// NewValidator compiles the predicates. The plausibility predicate may reference
// only `$value`; the panel predicate references `$value` and peer variable ids.
func NewValidator(plausible, panel string) (*Validator, error) {
	v := &Validator{Plausible: plausible, Panel: panel}

	if plausible != "" {
		for _, id := range expr.Identifiers(plausible) {
			if id != "value" {
				return nil, fmt.Errorf("%w: plausibility check may only reference $value, found $%s",
					ErrInvalidExpression, id)
			}
		}
		p, err := expr.Compile(plausible)
		if err != nil {
			return nil, fmt.Errorf("%w: plausibility check: %v", ErrInvalidExpression, err)
		}
		v.plausible = p
	}

	if panel != "" {
		p, err := expr.Compile(panel)
		if err != nil {
			return nil, fmt.Errorf("%w: panel check: %v", ErrInvalidExpression, err)
		}
		v.panel = p
		for _, id := range expr.Identifiers(panel) {
			if id != "value" {
				v.peers = append(v.peers, id)
			}
		}
	}
	return v, nil
}

// PanelPeers returns the variable ids the panel predicate references.
func (v *Validator) PanelPeers() []string {
	return v.peers
}

// checkPlausible evaluates the plausibility predicate; the result must be boolean.
func (v *Validator) checkPlausible(value *Value) (bool, error) {
	if v.plausible == nil {
		return true, nil
	}
	res, err := v.plausible.Eval(map[string]interface{}{"value": value.EvaluationValue()})
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("plausibility check %q returned %T, not a boolean", v.Plausible, res)
	}
	return b, nil
}

// checkPanel evaluates the panel predicate against peer records. It reports ok=true
// without evaluating when a referenced peer is not available.
func (v *Validator) checkPanel(value *Value, peers map[string]*Record) (bool, error) {
	if v.panel == nil {
		return true, nil
	}
	names := map[string]interface{}{"value": value.EvaluationValue()}
	for _, id := range v.peers {
		peer, ok := peers[id]
		if !ok || !peer.HasValue() {
			return true, nil
		}
		names[id] = peer.Value().EvaluationValue()
	}
	// Dotted accessors on peers resolve through the same names as expressions.
	for _, name := range v.panel.Names() {
		if _, ok := names[name]; ok {
			continue
		}
		val, err := accessorValue(name, peers)
		if err != nil {
			return false, err
		}
		names[name] = val
	}
	return v.panel.EvalBool(names)
}
