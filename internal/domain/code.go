package domain

import (
	"strings"
)

// Code systems understood by guideline documents, keyed by the short alias authors use.
const (
	LOINC   = "http://loinc.org"
	SNOMED  = "http://snomed.info/sct"
	RXNORM  = "http://www.nlm.nih.gov/research/umls/rxnorm"
	CONCORD = "http://concord.health/terminologies/variables"
	CPT     = "http://www.ama-assn.org/go/cpt"
	CDC_RE  = "urn:oid:2.16.840.1.113883.6.238"
	ICD10CM = "urn:oid:2.16.840.1.113883.6.90"
	UCUM    = "http://unitsofmeasure.org"
)

var systemAliases = map[string]string{
	"loinc":   LOINC,
	"snomed":  SNOMED,
	"rxnorm":  RXNORM,
	"concord": CONCORD,
	"cpt":     CPT,
	"cdc_re":  CDC_RE,
	"icd10cm": ICD10CM,
	"ucum":    UCUM,
}

// ResolveSystem maps a code-system alias to its URI. Unknown input is returned as is.
func ResolveSystem(system string) string {
	if uri, ok := systemAliases[strings.ToLower(strings.TrimSpace(system))]; ok {
		return uri
	}
	return strings.TrimSpace(system)
}

// Code is a coded concept from a terminology.
type Code struct {
	System  string `json:"system" yaml:"system"`
	Code    string `json:"code" yaml:"code"`
	Display string `json:"display,omitempty" yaml:"display,omitempty"`
}

// NewCode creates a Code, resolving the system alias.
func NewCode(system, code, display string) Code {
	return Code{System: ResolveSystem(system), Code: strings.TrimSpace(code), Display: display}
}

// NewUnit creates a UCUM unit code.
func NewUnit(unit string) *Code {
	if unit == "" {
		return nil
	}
	return &Code{System: UCUM, Code: unit, Display: unit}
}

// Key is the system|code form used for comparisons inside expressions.
func (c Code) Key() string {
	return c.System + "|" + c.Code
}

// Equal compares system and code; display text is ignored.
func (c Code) Equal(other Code) bool {
	return c.System == other.System && c.Code == other.Code
}

func (c Code) String() string {
	if c.Display != "" {
		return c.Display
	}
	return c.Code
}

// CodesOverlap reports whether any code appears in both lists.
func CodesOverlap(a, b []Code) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Equal(y) {
				return true
			}
		}
	}
	return false
}
