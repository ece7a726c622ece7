package domain

import (
	"time"
)

// HealthContext is a subject's materialized data: one record per known variable and
// the persona narratives are resolved for.
type HealthContext struct {
	SubjectID string
	Persona   Persona
	Records   []*Record
}

// NewHealthContext creates a HealthContext. An invalid persona defaults to patient.
func NewHealthContext(subjectID string, persona Persona, records []*Record) *HealthContext {
	if !persona.IsValid() {
		persona = PATIENT
	}
	return &HealthContext{SubjectID: subjectID, Persona: persona, Records: records}
}

// FromValues groups observed values onto variables by code overlap. Values dated after
// until are dropped when until is set; values matching no variable are ignored.
func FromValues(subjectID string, persona Persona, values []*Value, variables []*Variable, until time.Time, opts ...RecordOption) *HealthContext {
	records := make([]*Record, 0, len(variables))
	for _, variable := range variables {
		var matched []*Value
		for _, v := range values {
			if !until.IsZero() && v.Date().After(until) {
				continue
			}
			if variable.Matches(v.Codes()) {
				matched = append(matched, v)
			}
		}
		if len(matched) > 0 {
			records = append(records, NewRecord(variable, matched, opts...))
		}
	}
	return NewHealthContext(subjectID, persona, records)
}

// Record returns the record with the given id, or nil.
func (h *HealthContext) Record(id string) *Record {
	for _, r := range h.Records {
		if r.ID() == id {
			return r
		}
	}
	return nil
}

// Find locates the record for variable by id, falling back to code overlap.
func (h *HealthContext) Find(variable *Variable) *Record {
	if r := h.Record(variable.ID); r != nil {
		return r
	}
	for _, r := range h.Records {
		if variable.Matches(r.Variable().Codes) {
			return r
		}
	}
	return nil
}
