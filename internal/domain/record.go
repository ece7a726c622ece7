package domain

import (
	"io"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Record binds one Variable to a subject's values for the duration of a run.
// Values are held newest first. The only mutation is attestation.
type Record struct {
	variable *Variable
	values   ValueList
	attested *Value
	now      func() time.Time
	logger   *logrus.Logger

	narrative   string
	lastPersona Persona
	lastScope   map[string]*Record
}

// RecordOption configures a Record.
type RecordOption func(*Record)

// WithRecordLogger sets the logger used for non-strict validation warnings.
func WithRecordLogger(logger *logrus.Logger) RecordOption {
	return func(r *Record) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the clock the value filter measures date windows against.
func WithClock(now func() time.Time) RecordOption {
	return func(r *Record) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecord creates a record for variable, which must not be nil.
func NewRecord(variable *Variable, values []*Value, opts ...RecordOption) *Record {
	r := &Record{
		variable: variable,
		values:   SortNewestFirst(values),
		now:      time.Now,
		logger:   discardLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// ID returns the variable id.
func (r *Record) ID() string {
	return r.variable.ID
}

// Variable returns the shared variable definition.
func (r *Record) Variable() *Variable {
	return r.variable
}

// RawValues returns the unfiltered values, newest first.
func (r *Record) RawValues() ValueList {
	return r.values
}

// Attested returns the attested override, or nil.
func (r *Record) Attested() *Value {
	return r.attested
}

// Values applies value selection: attested override, then the variable's filter,
// then the raw list.
func (r *Record) Values() ValueList {
	if r.attested != nil {
		return ValueList{r.attested}
	}
	if r.variable.Filter != nil {
		return r.variable.Filter.Apply(r.values, r.now())
	}
	return r.values
}

// Value returns the current value, or nil.
func (r *Record) Value() *Value {
	return r.Values().Latest()
}

// HasValue reports whether a current value exists.
func (r *Record) HasValue() bool {
	return len(r.Values()) > 0
}

// Attest sets a user-supplied value that overrides all other values. The value is
// validated strictly against the variable and the given peers. On success the
// narrative is re-resolved with the persona last used.
func (r *Record) Attest(v *Value, peers ...*Record) error {
	if !r.variable.UserAttestable {
		return NewVariableError(KindNotAttestable, r.ID(), nil,
			"variable %s is not user attestable", r.ID())
	}
	if v == nil {
		return NewVariableError(KindInvalidValue, r.ID(), nil, "attested value for %s cannot be empty", r.ID())
	}
	if err := r.Validate(v, peers, true); err != nil {
		return err
	}

	r.attested = v
	if r.lastPersona != "" {
		r.ResolveNarrative(r.lastPersona, r.lastScope)
	}
	return nil
}

// Validate checks v against the declared type, then the plausibility predicate, then
// the panel predicate over peers. When strict is false the two predicates only log.
func (r *Record) Validate(v *Value, peers []*Record, strict bool) error {
	if err := checkType(r.variable, v); err != nil {
		return err
	}

	validator := r.variable.Validator
	if validator == nil {
		return nil
	}

	ok, err := validator.checkPlausible(v)
	if err != nil || !ok {
		fields := logrus.Fields{"variable": r.ID(), "value": v.Representation(), "check": validator.Plausible}
		if strict {
			if err != nil {
				return NewVariableError(KindImplausibleValue, r.ID(), v.Payload(),
					"value %s for %s could not be checked: %v", v.Representation(), r.ID(), err)
			}
			return NewVariableError(KindImplausibleValue, r.ID(), v.Payload(),
				"value %s for %s is implausible (%s)", v.Representation(), r.ID(), validator.Plausible)
		}
		r.logger.WithFields(fields).WithError(err).Warn("Implausible value accepted")
	}

	byID := make(map[string]*Record, len(peers))
	for _, p := range peers {
		if p != nil {
			byID[p.ID()] = p
		}
	}
	ok, err = validator.checkPanel(v, byID)
	if err != nil || !ok {
		if strict {
			return NewVariableError(KindPanelInconsistent, r.ID(), v.Payload(),
				"value %s for %s is inconsistent with its panel (%s)", v.Representation(), r.ID(), validator.Panel)
		}
		r.logger.WithFields(logrus.Fields{
			"variable": r.ID(),
			"value":    v.Representation(),
			"check":    validator.Panel,
		}).WithError(err).Warn("Panel-inconsistent value accepted")
	}
	return nil
}

func checkType(variable *Variable, v *Value) error {
	mismatch := func() error {
		return NewVariableError(KindTypeMismatch, variable.ID, v.Payload(),
			"value %v for %s is not of type %s", v.Payload(), variable.ID, variable.Type)
	}

	switch variable.Type {
	case "":
		return nil
	case BOOLEAN_TYPE:
		switch p := v.Payload().(type) {
		case bool:
			return nil
		case string:
			if s := strings.ToLower(p); s == "true" || s == "false" {
				return nil
			}
		}
	case INTEGER_TYPE:
		if f, ok := v.Float(); ok && f == math.Trunc(f) {
			return nil
		}
	case DECIMAL_TYPE:
		if _, ok := v.Float(); ok {
			return nil
		}
	case DATE_TYPE:
		if _, ok := v.Time(); ok {
			return nil
		}
	case STRING_TYPE:
		switch v.Payload().(type) {
		case string, Code:
			return nil
		}
	}
	return mismatch()
}

// ResolveNarrative renders the narrative for persona. Only records in scope and the
// record itself (as $self) are visible to the template.
func (r *Record) ResolveNarrative(persona Persona, scope map[string]*Record) string {
	r.lastPersona = persona
	r.lastScope = scope

	text, ok := r.template(persona)
	if !ok {
		r.narrative = ""
		return ""
	}
	r.narrative = RenderTemplate(text, r.narrativeScope(scope))
	return r.narrative
}

// ResolveComplianceNarrative renders the compliance narrative for persona, selected by
// the outcome of compliance.
func (r *Record) ResolveComplianceNarrative(persona Persona, compliance *Value, scope map[string]*Record) string {
	n := r.variable.Narrative
	if n == nil {
		return ""
	}
	text, ok := n.ComplianceTemplate(persona, OutcomeOf(compliance))
	if !ok {
		return ""
	}
	return RenderTemplate(text, r.narrativeScope(scope))
}

// Narrative returns the last resolved narrative.
func (r *Record) Narrative() string {
	return r.narrative
}

func (r *Record) template(persona Persona) (string, bool) {
	outcome := OutcomeOf(r.Value())
	if n := r.variable.Narrative; n != nil && len(n.templates) > 0 {
		return n.Template(persona, outcome)
	}
	if persona == GUARDIAN {
		persona = PATIENT
	}
	return defaultNarrative.Template(persona, outcome)
}

// narrativeScope keeps only the ids the narrative declares, plus self.
func (r *Record) narrativeScope(scope map[string]*Record) map[string]*Record {
	out := map[string]*Record{SelfReference: r}
	for _, id := range r.variable.NarrativeVariables() {
		if rec, ok := scope[id]; ok {
			out[id] = rec
		}
	}
	return out
}
