package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClassifySufficiency is the sufficiency table:
//
//	required  has value  attestable  status
//	any       true       any         Sufficient
//	true      false      true        SufficientWithUserAttestation
//	true      false      false       Insufficient
//	false     false      any         Optional
func ClassifySufficiency(required, hasValue, attestable bool) SufficiencyStatus {
	switch {
	case hasValue:
		return SUFFICIENT
	case required && attestable:
		return SUFFICIENT_WITH_USER_ATTESTATION
	case required:
		return INSUFFICIENT
	}
	return OPTIONAL
}

// EvaluatedRecord is the immutable outcome of evaluating one record in one stage.
// Status is fixed at construction; a record attested later needs a new evaluation.
type EvaluatedRecord struct {
	Record       *Record
	Result       EvaluationStatus
	Err          error
	Dependencies []*Record
	Status       SufficiencyStatus
}

// NewEvaluatedRecord classifies record. A required record that has a value but also
// carries an error is classified as if the value were missing, through the attestable
// branch. An optional record with a bad value stays optional.
func NewEvaluatedRecord(record *Record, err error, deps []*Record) *EvaluatedRecord {
	v := record.Variable()
	hasValue := record.HasValue()

	var status SufficiencyStatus
	switch {
	case err != nil && hasValue && !v.Required:
		status = OPTIONAL
	case err != nil && hasValue && v.UserAttestable:
		status = SUFFICIENT_WITH_USER_ATTESTATION
	case err != nil && hasValue:
		status = INSUFFICIENT
	default:
		status = ClassifySufficiency(v.Required, hasValue, v.UserAttestable)
	}

	if status == INSUFFICIENT && err == nil {
		err = NewVariableError(KindMissingValue, v.ID, nil, "variable %s has no value(s)", v.ID)
	}

	result := SUCCESSFUL
	if err != nil {
		result = FAILED
	}

	return &EvaluatedRecord{
		Record:       record,
		Result:       result,
		Err:          err,
		Dependencies: deps,
		Status:       status,
	}
}

// ID returns the record id.
func (e *EvaluatedRecord) ID() string {
	return e.Record.ID()
}

// Successful reports whether evaluation produced no error.
func (e *EvaluatedRecord) Successful() bool {
	return e.Result == SUCCESSFUL
}

// Value returns the record's current value.
func (e *EvaluatedRecord) Value() *Value {
	return e.Record.Value()
}

// NeedsAttestation reports whether the record waits for a user value. It reads the
// record live, so attesting clears it. A record whose value failed evaluation waits
// until a user value replaces it.
func (e *EvaluatedRecord) NeedsAttestation() bool {
	if e.Status != SUFFICIENT_WITH_USER_ATTESTATION || e.Record.Attested() != nil {
		return false
	}
	return !e.Record.HasValue() || e.Err != nil
}

// EvaluationContext is the ordered, append-only log of one stage invocation.
type EvaluationContext struct {
	ID        uuid.UUID
	Stage     string
	CreatedAt time.Time
	records   []*EvaluatedRecord
}

// NewEvaluationContext creates an empty context for a stage.
func NewEvaluationContext(stage string) *EvaluationContext {
	return &EvaluationContext{
		ID:        uuid.New(),
		Stage:     stage,
		CreatedAt: time.Now().UTC(),
	}
}

// AddEvaluated records a successful evaluation.
func (c *EvaluationContext) AddEvaluated(record *Record, deps []*Record) *EvaluatedRecord {
	er := NewEvaluatedRecord(record, nil, deps)
	c.records = append(c.records, er)
	return er
}

// AddUnevaluated records a failed evaluation.
func (c *EvaluationContext) AddUnevaluated(record *Record, err error) *EvaluatedRecord {
	er := NewEvaluatedRecord(record, err, nil)
	c.records = append(c.records, er)
	return er
}

// Records returns every evaluated record in insertion order.
func (c *EvaluationContext) Records() []*EvaluatedRecord {
	out := make([]*EvaluatedRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Get returns the evaluated record for id, or nil.
func (c *EvaluationContext) Get(id string) *EvaluatedRecord {
	for _, er := range c.records {
		if er.ID() == id {
			return er
		}
	}
	return nil
}

// Len returns the number of evaluated records.
func (c *EvaluationContext) Len() int {
	return len(c.records)
}

// Errors returns every attached error in insertion order.
func (c *EvaluationContext) Errors() []error {
	var errs []error
	for _, er := range c.records {
		if er.Err != nil {
			errs = append(errs, er.Err)
		}
	}
	return errs
}

// Insufficient returns the records classified Insufficient.
func (c *EvaluationContext) Insufficient() []*EvaluatedRecord {
	return c.filter(func(er *EvaluatedRecord) bool { return er.Status == INSUFFICIENT })
}

// Sufficient returns the records with usable data: Sufficient, or attested.
func (c *EvaluationContext) Sufficient() []*EvaluatedRecord {
	return c.filter(func(er *EvaluatedRecord) bool {
		return er.Status == SUFFICIENT ||
			(er.Status == SUFFICIENT_WITH_USER_ATTESTATION && er.Record.HasValue())
	})
}

// NeedingAttestation returns the records still waiting for a user value.
func (c *EvaluationContext) NeedingAttestation() []*EvaluatedRecord {
	return c.filter((*EvaluatedRecord).NeedsAttestation)
}

// RecordList returns the underlying records in insertion order.
func (c *EvaluationContext) RecordList() []*Record {
	out := make([]*Record, 0, len(c.records))
	for _, er := range c.records {
		out = append(out, er.Record)
	}
	return out
}

func (c *EvaluationContext) filter(keep func(*EvaluatedRecord) bool) []*EvaluatedRecord {
	var out []*EvaluatedRecord
	for _, er := range c.records {
		if keep(er) {
			out = append(out, er)
		}
	}
	return out
}
