// Package attestation persists user-supplied variable values so an evaluation can be
// resumed without asking the same questions again.
package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/concord-cpg-engine/internal/domain"
)

// Kinds of attested payload.
const (
	KindBoolean = "boolean"
	KindNumber  = "number"
	KindString  = "string"
	KindDate    = "date"
	KindCode    = "code"
)

// Attestation is one user-supplied value for a variable of a guideline, for one subject.
// Subject, guideline and variable together identify it; saving the same triple again
// replaces the value.
type Attestation struct {
	ID         string          `json:"id"`
	SubjectID  string          `json:"subject_id"`
	Guideline  string          `json:"guideline"`
	VariableID string          `json:"variable_id"`
	Value      json.RawMessage `json:"value"`
	ValueType  string          `json:"value_type"`
	Unit       string          `json:"unit,omitempty"`
	AttestedBy string          `json:"attested_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Key returns the subject|guideline|variable identity of the attestation.
func (a *Attestation) Key() string {
	return a.SubjectID + "|" + a.Guideline + "|" + a.VariableID
}

// Store defines the interface for attestation storage operations.
type Store interface {
	// Save stores or updates an attestation. An existing attestation for the same
	// subject, guideline and variable keeps its ID and creation time.
	Save(ctx context.Context, a *Attestation) error

	// Get returns the attestation for the triple, or nil when there is none.
	Get(ctx context.Context, subjectID, guideline, variableID string) (*Attestation, error)

	// ListForSubject returns the subject's attestations for a guideline.
	ListForSubject(ctx context.Context, subjectID, guideline string) ([]*Attestation, error)

	// List returns attestations newest first with pagination.
	List(ctx context.Context, limit, offset int) ([]*Attestation, error)

	// Count returns the total number of attestations.
	Count(ctx context.Context) (int64, error)

	// Delete removes an attestation by ID.
	Delete(ctx context.Context, id string) error

	// ExportJSON writes every attestation to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an export and saves the attestations not already present.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version      string         `json:"version"`
	ExportedAt   time.Time      `json:"exported_at"`
	Count        int            `json:"count"`
	Attestations []*Attestation `json:"attestations"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// ErrInvalidAttestation is returned for attestations missing their identity or value.
var ErrInvalidAttestation = errors.New("invalid attestation")

func validateAttestation(a *Attestation) error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: nil", ErrInvalidAttestation)
	case a.SubjectID == "" || a.Guideline == "" || a.VariableID == "":
		return fmt.Errorf("%w: subject, guideline and variable are required", ErrInvalidAttestation)
	case len(a.Value) == 0:
		return fmt.Errorf("%w: %s has no value", ErrInvalidAttestation, a.VariableID)
	}
	return nil
}

// prepare assigns an ID and timestamps before an insert.
func prepare(a *Attestation, now time.Time) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list attestations: %w", err)
	}

	export := &Export{
		Version:      "1.0",
		ExportedAt:   time.Now(),
		Count:        len(all),
		Attestations: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, a := range export.Attestations {
		existing, err := s.Get(ctx, a.SubjectID, a.Guideline, a.VariableID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := s.Save(ctx, a); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}

func sortByVariable(list []*Attestation) {
	sort.Slice(list, func(i, j int) bool { return list[i].VariableID < list[j].VariableID })
}

type codePayload struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// FromValue builds an attestation of v for the subject's variable.
func FromValue(subjectID, guideline, variableID string, v *domain.Value, attestedBy string) (*Attestation, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: %s has no value", ErrInvalidAttestation, variableID)
	}

	var kind string
	var payload interface{}
	switch p := v.Payload().(type) {
	case bool:
		kind, payload = KindBoolean, p
	case float64:
		kind, payload = KindNumber, p
	case string:
		kind, payload = KindString, p
	case time.Time:
		kind, payload = KindDate, p.Format(time.RFC3339Nano)
	case domain.Code:
		kind, payload = KindCode, codePayload{System: p.System, Code: p.Code, Display: p.Display}
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrInvalidAttestation, p)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attestation value: %w", err)
	}

	a := &Attestation{
		SubjectID:  subjectID,
		Guideline:  guideline,
		VariableID: variableID,
		Value:      raw,
		ValueType:  kind,
		AttestedBy: attestedBy,
	}
	if u := v.Unit(); u != nil {
		a.Unit = u.Code
	}
	return a, nil
}

// ToValue decodes the attested value. The value is dated at the last update and
// records the attestation as its source.
func ToValue(a *Attestation) (*domain.Value, error) {
	if err := validateAttestation(a); err != nil {
		return nil, err
	}

	var payload interface{}
	var err error
	switch a.ValueType {
	case KindBoolean:
		var b bool
		err = json.Unmarshal(a.Value, &b)
		payload = b
	case KindNumber:
		var f float64
		err = json.Unmarshal(a.Value, &f)
		payload = f
	case KindString:
		var s string
		err = json.Unmarshal(a.Value, &s)
		payload = s
	case KindDate:
		var s string
		if err = json.Unmarshal(a.Value, &s); err == nil {
			payload, err = time.Parse(time.RFC3339Nano, s)
		}
	case KindCode:
		var c codePayload
		err = json.Unmarshal(a.Value, &c)
		payload = domain.Code{System: c.System, Code: c.Code, Display: c.Display}
	default:
		return nil, fmt.Errorf("%w: unknown value type %q", ErrInvalidAttestation, a.ValueType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAttestation, a.VariableID, err)
	}

	opts := []domain.ValueOption{domain.WithDate(a.UpdatedAt), domain.WithSource(a)}
	if a.Unit != "" {
		opts = append(opts, domain.WithUnit(a.Unit))
	}
	return domain.NewValue(payload, opts...)
}
