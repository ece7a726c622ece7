// Package healthdata reads subject documents and materializes them against a
// guideline's variables.
package healthdata

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/concord-cpg-engine/internal/domain"
)

// Document is a subject's observed data as submitted in a file or request body.
type Document struct {
	Subject      Subject       `yaml:"subject" json:"subject"`
	Observations []Observation `yaml:"observations" json:"observations" validate:"dive"`
}

// Subject identifies whose data the document holds.
type Subject struct {
	ID      string `yaml:"id" json:"id" validate:"required"`
	Persona string `yaml:"persona" json:"persona,omitempty"`
}

// Observation is one coded datum. Value holds a scalar; ValueCode holds a coded
// answer such as a sex or condition code.
type Observation struct {
	Code      Coding      `yaml:"code" json:"code"`
	Codes     []Coding    `yaml:"codes" json:"codes,omitempty" validate:"dive"`
	Value     interface{} `yaml:"value" json:"value,omitempty"`
	ValueCode *Coding     `yaml:"value_code" json:"value_code,omitempty"`
	Unit      string      `yaml:"unit" json:"unit,omitempty"`
	Date      string      `yaml:"date" json:"date,omitempty"`
	Source    string      `yaml:"source" json:"source,omitempty"`
}

// Coding is a code in a terminology. System may be an alias such as loinc.
type Coding struct {
	System  string `yaml:"system" json:"system" validate:"required"`
	Code    string `yaml:"code" json:"code" validate:"required"`
	Display string `yaml:"display" json:"display,omitempty"`
}

func (c Coding) toCode() domain.Code {
	return domain.NewCode(c.System, c.Code, c.Display)
}

var validate = validator.New()

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Parse decodes a YAML or JSON subject document.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty subject document")
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse subject document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and parses the subject document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subject: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks required fields and that the persona, when given, is known.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid subject document: %w", err)
	}
	if d.Subject.Persona != "" {
		if _, err := domain.ParsePersona(d.Subject.Persona); err != nil {
			return fmt.Errorf("invalid subject document: %w", err)
		}
	}
	return nil
}

// Persona returns the document's persona, or fallback when none is given.
func (d *Document) Persona(fallback domain.Persona) domain.Persona {
	if d.Subject.Persona == "" {
		return fallback
	}
	if p, err := domain.ParsePersona(d.Subject.Persona); err == nil {
		return p
	}
	return fallback
}

// Values converts every observation to a domain value. Problems are reported together.
func (d *Document) Values() ([]*domain.Value, error) {
	values := make([]*domain.Value, 0, len(d.Observations))
	var errs []error
	for i, o := range d.Observations {
		v, err := o.toValue()
		if err != nil {
			errs = append(errs, fmt.Errorf("observation %d (%s): %w", i, o.Code.Code, err))
			continue
		}
		values = append(values, v)
	}
	if len(errs) > 0 {
		return nil, domain.NewMultiError(errs...)
	}
	return values, nil
}

// HealthContext binds the document's observations onto the guideline's variables.
// Observations dated after until are dropped when until is set.
func (d *Document) HealthContext(g *domain.Guideline, fallback domain.Persona, until time.Time, opts ...domain.RecordOption) (*domain.HealthContext, error) {
	values, err := d.Values()
	if err != nil {
		return nil, err
	}
	return domain.FromValues(d.Subject.ID, d.Persona(fallback), values, g.Variables, until, opts...), nil
}

func (o Observation) toValue() (*domain.Value, error) {
	codes := []domain.Code{o.Code.toCode()}
	for _, c := range o.Codes {
		codes = append(codes, c.toCode())
	}
	opts := []domain.ValueOption{domain.WithCodes(codes...)}
	if o.Unit != "" {
		opts = append(opts, domain.WithUnit(o.Unit))
	}
	if o.Date != "" {
		date, err := ParseDate(o.Date)
		if err != nil {
			return nil, err
		}
		opts = append(opts, domain.WithDate(date))
	}
	if o.Source != "" {
		opts = append(opts, domain.WithSource(o.Source))
	}

	if o.ValueCode != nil {
		if o.Value != nil {
			return nil, errors.New("value and value_code are mutually exclusive")
		}
		return domain.NewValue(o.ValueCode.toCode(), opts...)
	}
	return domain.NewValue(payload(o.Value), opts...)
}

// payload narrows decoded scalars to the kinds values accept. Strings in a date
// layout become dates.
func payload(raw interface{}) interface{} {
	switch p := raw.(type) {
	case string:
		if t, err := ParseDate(p); err == nil {
			return t
		}
		return p
	case int:
		return float64(p)
	case uint64:
		return float64(p)
	}
	return raw
}

// ParseDate accepts RFC 3339 timestamps and plain dates.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// UntilYear returns the last instant of year, or the zero time when year is zero.
func UntilYear(year int) time.Time {
	if year <= 0 {
		return time.Time{}
	}
	return time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC)
}
