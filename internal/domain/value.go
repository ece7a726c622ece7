package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Value is an immutable observed or derived datum.
//
// The payload is one of bool, float64, string, time.Time or Code. Every Go numeric kind
// is normalized to float64 on construction.
type Value struct {
	payload interface{}
	unit    *Code
	codes   []Code
	date    time.Time
	source  []interface{}
}

// ValueOption configures a Value at construction.
type ValueOption func(*Value)

// WithUnit attaches a UCUM unit.
func WithUnit(unit string) ValueOption {
	return func(v *Value) {
		v.unit = NewUnit(unit)
	}
}

// WithCodes attaches the codes that classify the value.
func WithCodes(codes ...Code) ValueOption {
	return func(v *Value) {
		v.codes = append(v.codes, codes...)
	}
}

// WithDate sets the observation date. A zero date keeps the default of now.
func WithDate(date time.Time) ValueOption {
	return func(v *Value) {
		if !date.IsZero() {
			v.date = date
		}
	}
}

// WithSource records provenance: the records, raw data or upstream values the value
// was built from.
func WithSource(source ...interface{}) ValueOption {
	return func(v *Value) {
		v.source = append(v.source, source...)
	}
}

// NewValue creates a Value. A nil or empty payload, or an unsupported payload type,
// fails with InvalidValue.
func NewValue(payload interface{}, opts ...ValueOption) (*Value, error) {
	normalized, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}

	v := &Value{payload: normalized, date: time.Now()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// MustValue is like NewValue but panics on error.
func MustValue(payload interface{}, opts ...ValueOption) *Value {
	v, err := NewValue(payload, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

func normalizePayload(payload interface{}) (interface{}, error) {
	switch p := payload.(type) {
	case nil:
		return nil, NewVariableError(KindInvalidValue, "", nil, "value cannot be empty")
	case string:
		if p == "" {
			return nil, NewVariableError(KindInvalidValue, "", p, "value cannot be empty")
		}
		return p, nil
	case bool:
		return p, nil
	case float64:
		return p, nil
	case float32:
		return float64(p), nil
	case int:
		return float64(p), nil
	case int32:
		return float64(p), nil
	case int64:
		return float64(p), nil
	case uint:
		return float64(p), nil
	case uint32:
		return float64(p), nil
	case uint64:
		return float64(p), nil
	case time.Time:
		if p.IsZero() {
			return nil, NewVariableError(KindInvalidValue, "", p, "date value cannot be zero")
		}
		return p, nil
	case Code:
		return p, nil
	case *Code:
		if p == nil {
			return nil, NewVariableError(KindInvalidValue, "", nil, "value cannot be empty")
		}
		return *p, nil
	}
	return nil, NewVariableError(KindInvalidValue, "", payload, "unsupported value type %T", payload)
}

// Payload returns the normalized payload.
func (v *Value) Payload() interface{} {
	return v.payload
}

// Unit returns the unit, or nil.
func (v *Value) Unit() *Code {
	return v.unit
}

// Codes returns the classification codes.
func (v *Value) Codes() []Code {
	return v.codes
}

// Date returns the observation date.
func (v *Value) Date() time.Time {
	return v.date
}

// Source returns the provenance list. It is empty only for root inputs.
func (v *Value) Source() []interface{} {
	return v.source
}

// Bool returns the payload as a bool when it is one.
func (v *Value) Bool() (bool, bool) {
	b, ok := v.payload.(bool)
	return b, ok
}

// Float returns the payload as a float64 when it is numeric.
func (v *Value) Float() (float64, bool) {
	f, ok := v.payload.(float64)
	return f, ok
}

// Time returns the payload as a time when it is a date.
func (v *Value) Time() (time.Time, bool) {
	t, ok := v.payload.(time.Time)
	return t, ok
}

// EvaluationValue is the payload as seen by expressions: codes reduce to system|code.
func (v *Value) EvaluationValue() interface{} {
	if c, ok := v.payload.(Code); ok {
		return c.Key()
	}
	return v.payload
}

// Equal compares payloads only; dates, units and provenance are excluded.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	switch p := v.payload.(type) {
	case time.Time:
		o, ok := other.payload.(time.Time)
		return ok && p.Equal(o)
	case Code:
		o, ok := other.payload.(Code)
		return ok && p.Equal(o)
	}
	return v.payload == other.payload
}

// Compare orders two payloads of the same kind. Booleans and codes have no order.
func (v *Value) Compare(other *Value) (int, error) {
	switch p := v.payload.(type) {
	case float64:
		if o, ok := other.payload.(float64); ok {
			return compareOrdered(p, o), nil
		}
	case string:
		if o, ok := other.payload.(string); ok {
			return strings.Compare(p, o), nil
		}
	case time.Time:
		if o, ok := other.payload.(time.Time); ok {
			return p.Compare(o), nil
		}
	}
	return 0, NewVariableError(KindTypeMismatch, "", other.payload,
		"cannot compare %T with %T", v.payload, other.payload)
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Representation is the human-readable form used in narratives.
func (v *Value) Representation() string {
	var s string
	switch p := v.payload.(type) {
	case bool:
		if p {
			return "Yes"
		}
		return "No"
	case float64:
		s = strconv.FormatFloat(p, 'f', -1, 64)
	case time.Time:
		s = p.Format("2006-01-02")
	case Code:
		s = p.String()
	default:
		s = fmt.Sprint(p)
	}
	if v.unit != nil && v.unit.Code != "" {
		return s + " " + v.unit.Code
	}
	return s
}

func (v *Value) String() string {
	return v.Representation()
}

// ValueList is a list of values ordered newest first.
type ValueList []*Value

// SortNewestFirst orders values by date, newest first, keeping input order for ties.
func SortNewestFirst(values []*Value) ValueList {
	out := make(ValueList, len(values))
	copy(out, values)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].date.After(out[j].date)
	})
	return out
}

// Latest returns the newest value, or nil.
func (l ValueList) Latest() *Value {
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

func (l ValueList) String() string {
	parts := make([]string, 0, len(l))
	for _, v := range l {
		parts = append(parts, v.Representation())
	}
	return strings.Join(parts, ", ")
}
