package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/concord-cpg-engine/pkg/expr"
)

// OutcomeKind is the shape of a record's current value as seen by narrative lookup.
type OutcomeKind int

const (
	NoValueOutcome OutcomeKind = iota
	TrueOutcome
	FalseOutcome
	HasValueOutcome
)

// Outcome selects a narrative template. HasValue carries the literal representation
// of the value so authors can key templates by specific values.
type Outcome struct {
	Kind    OutcomeKind
	Literal string
}

// OutcomeOf derives the outcome for a value; nil is NoValue.
func OutcomeOf(v *Value) Outcome {
	if v == nil {
		return Outcome{Kind: NoValueOutcome}
	}
	if b, ok := v.Bool(); ok {
		if b {
			return Outcome{Kind: TrueOutcome}
		}
		return Outcome{Kind: FalseOutcome}
	}
	literal := fmt.Sprint(v.Payload())
	if f, ok := v.Float(); ok {
		literal = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if c, ok := v.Payload().(Code); ok {
		literal = c.Code
	}
	return Outcome{Kind: HasValueOutcome, Literal: literal}
}

// Normalized template keys.
const (
	keyTrue     = "true"
	keyFalse    = "false"
	keyHasValue = "hasvalue"
	keyNoValue  = "novalue"
	keyNone     = "none"
)

// Fallbacks returns the template keys to try, in order.
func (o Outcome) Fallbacks() []string {
	switch o.Kind {
	case TrueOutcome:
		return []string{keyTrue, keyHasValue}
	case FalseOutcome:
		return []string{keyFalse}
	case HasValueOutcome:
		return []string{normalizeKey(o.Literal), keyHasValue, keyTrue}
	}
	return []string{keyNoValue, keyNone}
}

func (o Outcome) String() string {
	switch o.Kind {
	case TrueOutcome:
		return "True"
	case FalseOutcome:
		return "False"
	case HasValueOutcome:
		return "HasValue(" + o.Literal + ")"
	}
	return "NoValue"
}

// normalizeKey folds case and drops separators so "HasValue", "has_value" and
// "hasvalue" are the same key.
func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

// Narrative maps persona to outcome key to template text, with an optional
// compliance block of the same shape.
type Narrative struct {
	templates  map[Persona]map[string]string
	compliance map[Persona]map[string]string
}

// NewNarrative normalizes persona names and outcome keys.
func NewNarrative(templates, compliance map[string]map[string]string) (*Narrative, error) {
	n := &Narrative{}
	var err error
	if n.templates, err = normalizeTemplates(templates); err != nil {
		return nil, err
	}
	if n.compliance, err = normalizeTemplates(compliance); err != nil {
		return nil, err
	}
	return n, nil
}

func normalizeTemplates(in map[string]map[string]string) (map[Persona]map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[Persona]map[string]string, len(in))
	for name, keyed := range in {
		persona, err := ParsePersona(name)
		if err != nil {
			return nil, fmt.Errorf("narrative: %w", err)
		}
		m := make(map[string]string, len(keyed))
		for k, text := range keyed {
			m[normalizeKey(k)] = text
		}
		out[persona] = m
	}
	return out, nil
}

// Template returns the template for the persona and outcome, following the outcome's
// fallback chain.
func (n *Narrative) Template(persona Persona, outcome Outcome) (string, bool) {
	return lookupTemplate(n.templates, persona, outcome)
}

// ComplianceTemplate is like Template for the compliance block.
func (n *Narrative) ComplianceTemplate(persona Persona, outcome Outcome) (string, bool) {
	return lookupTemplate(n.compliance, persona, outcome)
}

// HasCompliance reports whether the narrative declares a compliance block.
func (n *Narrative) HasCompliance() bool {
	return len(n.compliance) > 0
}

func lookupTemplate(m map[Persona]map[string]string, persona Persona, outcome Outcome) (string, bool) {
	keyed, ok := m[persona]
	if !ok {
		return "", false
	}
	for _, k := range outcome.Fallbacks() {
		if text, ok := keyed[k]; ok {
			return text, true
		}
	}
	return "", false
}

// Variables returns the ids referenced by any template, self excluded, sorted.
func (n *Narrative) Variables() []string {
	seen := map[string]bool{}
	for _, block := range []map[Persona]map[string]string{n.templates, n.compliance} {
		for _, keyed := range block {
			for _, text := range keyed {
				for _, id := range expr.Identifiers(text) {
					if id != SelfReference {
						seen[id] = true
					}
				}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelfReference is the narrative placeholder for the record being described.
const SelfReference = "self"

// NotAvailable is rendered for placeholders with nothing to show.
const NotAvailable = "-n/a-"

var defaultNarrative = &Narrative{
	templates: map[Persona]map[string]string{
		PATIENT: {
			keyHasValue: "Following results in your record: $self.values",
			keyTrue:     "Following results in your record: $self.values",
			keyNoValue:  "Not found in your record",
			keyFalse:    "Not found in your record",
		},
		PROVIDER: {
			keyHasValue: "Values: $self.values",
			keyTrue:     "Values: $self.values",
			keyNoValue:  "Not in record",
			keyFalse:    "Not in record",
		},
	},
}

// DefaultNarrative is used for variables that declare none. Guardians read the
// patient variant.
func DefaultNarrative() *Narrative {
	return defaultNarrative
}

// RenderTemplate substitutes `$id[.value|.values|.date|.count]` placeholders from
// scope. Only the records in scope are visible.
func RenderTemplate(template string, scope map[string]*Record) string {
	return expr.ReplaceTags(template, func(tag expr.Tag) string {
		return placeholderText(tag, scope)
	})
}

func placeholderText(tag expr.Tag, scope map[string]*Record) string {
	rec, ok := scope[tag.ID]
	if !ok || rec == nil {
		return NotAvailable
	}
	values := rec.Values()
	switch tag.Accessor {
	case "", "value":
		if v := values.Latest(); v != nil {
			return v.Representation()
		}
	case "values":
		if len(values) > 0 {
			return values.String()
		}
	case "date":
		if v := values.Latest(); v != nil {
			return humanize.Time(v.Date())
		}
	case "count":
		return strconv.Itoa(len(values))
	}
	return NotAvailable
}
