package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ErrorKind names a class of evaluation failure.
type ErrorKind string

const (
	KindInvalidValue              ErrorKind = "InvalidValue"
	KindNotAttestable             ErrorKind = "NotAttestable"
	KindTypeMismatch              ErrorKind = "TypeMismatch"
	KindImplausibleValue          ErrorKind = "ImplausibleValue"
	KindPanelInconsistent         ErrorKind = "PanelInconsistent"
	KindMissingValue              ErrorKind = "MissingValue"
	KindInvalidExpression         ErrorKind = "InvalidExpression"
	KindUndeclaredVariable        ErrorKind = "UndeclaredVariable"
	KindExpressionEvaluationError ErrorKind = "ExpressionEvaluationError"
)

// Sentinels for errors.Is. Every typed error below unwraps to one of these.
var (
	ErrInvalidValue         = errors.New("invalid value")
	ErrNotAttestable        = errors.New("variable is not user attestable")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrImplausibleValue     = errors.New("implausible value")
	ErrPanelInconsistent    = errors.New("panel inconsistent")
	ErrMissingValue         = errors.New("missing value")
	ErrInvalidExpression    = errors.New("invalid expression")
	ErrUndeclaredVariable   = errors.New("undeclared variable")
	ErrExpressionEvaluation = errors.New("expression evaluation failed")
	ErrVariableEvaluation   = errors.New("variable evaluation failed")
	ErrNeedsAttestation     = errors.New("attestation needed")
	ErrGuidelineValidation  = errors.New("guideline validation failed")
	ErrPrecondition         = errors.New("precondition failed")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrUnknownFunction      = errors.New("unknown evaluation function")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidValue:              ErrInvalidValue,
	KindNotAttestable:             ErrNotAttestable,
	KindTypeMismatch:              ErrTypeMismatch,
	KindImplausibleValue:          ErrImplausibleValue,
	KindPanelInconsistent:         ErrPanelInconsistent,
	KindMissingValue:              ErrMissingValue,
	KindInvalidExpression:         ErrInvalidExpression,
	KindUndeclaredVariable:        ErrUndeclaredVariable,
	KindExpressionEvaluationError: ErrExpressionEvaluation,
}

// Sentinel returns the errors.Is target for the kind.
func (k ErrorKind) Sentinel() error {
	return kindSentinels[k]
}

// VariableError is a data-model failure tied to one variable.
type VariableError struct {
	Kind       ErrorKind   `json:"kind"`
	VariableID string      `json:"variable_id,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Msg        string      `json:"message"`
}

// Error implements the error interface
func (e *VariableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *VariableError) Unwrap() error {
	return e.Kind.Sentinel()
}

// NewVariableError creates a new VariableError
func NewVariableError(kind ErrorKind, variableID string, value interface{}, format string, args ...interface{}) *VariableError {
	return &VariableError{
		Kind:       kind,
		VariableID: variableID,
		Value:      value,
		Msg:        fmt.Sprintf(format, args...),
	}
}

// ExpressionError carries the offending expression and the names it was evaluated with.
type ExpressionError struct {
	Kind       ErrorKind
	Expression string
	Token      string
	Names      map[string]interface{}
	Err        error
}

// Error implements the error interface
func (e *ExpressionError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(": ")
	switch {
	case e.Kind == KindUndeclaredVariable:
		fmt.Fprintf(&sb, "%s is not declared in %q", e.Token, e.Expression)
	case e.Err != nil:
		fmt.Fprintf(&sb, "%q: %v", e.Expression, e.Err)
	default:
		fmt.Fprintf(&sb, "%q", e.Expression)
	}
	if len(e.Names) > 0 {
		keys := make([]string, 0, len(e.Names))
		for k := range e.Names {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, e.Names[k]))
		}
		sb.WriteString(" [")
		sb.WriteString(strings.Join(pairs, ", "))
		sb.WriteString("]")
	}
	return sb.String()
}

func (e *ExpressionError) Unwrap() []error {
	errs := []error{e.Kind.Sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// VariableEvaluationError wraps every failure seen while evaluating one derived
// variable (an eligibility criterion, assessment or recommendation).
type VariableEvaluationError struct {
	VariableID string
	Errors     []error
}

// NewVariableEvaluationError creates a VariableEvaluationError, skipping nil errors.
func NewVariableEvaluationError(variableID string, errs ...error) *VariableEvaluationError {
	e := &VariableEvaluationError{VariableID: variableID}
	for _, err := range errs {
		if err != nil {
			e.Errors = append(e.Errors, err)
		}
	}
	return e
}

// Error implements the error interface
func (e *VariableEvaluationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, "  "+err.Error())
	}
	return fmt.Sprintf("%s:\n%s", e.VariableID, strings.Join(msgs, "\n"))
}

func (e *VariableEvaluationError) Unwrap() []error {
	return append([]error{ErrVariableEvaluation}, e.Errors...)
}

// NeedsAttestationError is the control signal raised when records still wait for a
// user-supplied value. It names exactly those records.
type NeedsAttestationError struct {
	Records []*Record
}

// Pending returns the ids of the records waiting for attestation.
func (e *NeedsAttestationError) Pending() []string {
	ids := make([]string, 0, len(e.Records))
	for _, r := range e.Records {
		ids = append(ids, r.ID())
	}
	return ids
}

// Error implements the error interface
func (e *NeedsAttestationError) Error() string {
	return fmt.Sprintf("attestation needed for: %s", strings.Join(e.Pending(), ", "))
}

func (e *NeedsAttestationError) Unwrap() error {
	return ErrNeedsAttestation
}

// GuidelineValidationError aggregates every problem found in a guideline definition.
type GuidelineValidationError struct {
	Guideline string
	Err       *multierror.Error
}

// Error implements the error interface
func (e *GuidelineValidationError) Error() string {
	return fmt.Sprintf("guideline %s is invalid: %v", e.Guideline, e.Err)
}

func (e *GuidelineValidationError) Unwrap() []error {
	return append([]error{ErrGuidelineValidation}, e.Err.WrappedErrors()...)
}

// Problems returns the individual validation failures.
func (e *GuidelineValidationError) Problems() []error {
	return e.Err.WrappedErrors()
}

// PreconditionError reports a stage invoked out of order or on an ineligible subject.
type PreconditionError struct {
	Stage string
	Msg   string
}

// Error implements the error interface
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %s: %s", e.Stage, e.Msg)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPrecondition
}

// InsufficientDataError aggregates every insufficiency that keeps a guideline from running.
type InsufficientDataError struct {
	Variables []string
	Err       *multierror.Error
}

// Error implements the error interface
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %v", strings.Join(e.Variables, ", "), e.Err)
}

func (e *InsufficientDataError) Unwrap() []error {
	errs := []error{ErrInsufficientData}
	if e.Err != nil {
		errs = append(errs, e.Err.WrappedErrors()...)
	}
	return errs
}

// NewInsufficientDataError aggregates errs for the named variables.
func NewInsufficientDataError(variables []string, errs ...error) *InsufficientDataError {
	return &InsufficientDataError{Variables: variables, Err: newMultiError(errs...)}
}

// NewMultiError aggregates errs with the problem-list format used by domain errors.
func NewMultiError(errs ...error) *multierror.Error {
	return newMultiError(errs...)
}

// errorList renders multierror aggregates one per line, without the count header.
func errorList(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, "  * "+err.Error())
	}
	return strings.Join(msgs, "\n")
}

func newMultiError(errs ...error) *multierror.Error {
	merr := multierror.Append(nil, errs...)
	merr.ErrorFormat = func(errs []error) string {
		return fmt.Sprintf("%d problem(s):\n%s", len(errs), errorList(errs))
	}
	return merr
}
