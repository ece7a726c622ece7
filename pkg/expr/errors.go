package expr

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownName    = errors.New("name is not defined")
	ErrTypeMismatch   = errors.New("unsupported operand types")
	ErrDivisionByZero = errors.New("division by zero")
)

// SyntaxError reports an expression that could not be compiled.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d in %q: %s", e.Pos, e.Expr, e.Msg)
}

// EvalError reports a failure while evaluating a compiled expression.
type EvalError struct {
	Expr string
	Msg  string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %s", e.Expr, e.Msg)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
