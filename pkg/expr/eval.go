package expr

import (
	"fmt"
	"math"
	"time"
)

// Eval evaluates the program against names. Every name the program reads must be
// present in the map; a nil entry binds the null value.
func (p *Program) Eval(names map[string]any) (any, error) {
	ctx := &evalContext{src: p.src, names: names}
	return ctx.eval(p.root)
}

// EvalBool evaluates the program and reduces the result with Truthy.
func (p *Program) EvalBool(names map[string]any) (bool, error) {
	v, err := p.Eval(names)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy reports the boolean interpretation of a result: null, false, zero, the empty
// string and empty slices are false; everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case time.Time:
		return !t.IsZero()
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

type evalContext struct {
	src   string
	names map[string]any
}

func (c *evalContext) fail(err error, format string, args ...any) error {
	return &EvalError{Expr: c.src, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (c *evalContext) eval(n *astNode) (any, error) {
	switch n.kind {
	case ndLiteral:
		return n.value, nil

	case ndName:
		name := n.value.(string)
		v, ok := c.names[name]
		if !ok {
			return nil, c.fail(ErrUnknownName, "name %q is not defined", name)
		}
		return normalize(v), nil

	case ndNot:
		v, err := c.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil

	case ndNegate:
		v, err := c.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, c.fail(ErrTypeMismatch, "bad operand type for unary -: %s", typeName(v))
		}
		return -f, nil

	case ndAnd:
		left, err := c.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		if !Truthy(left) {
			return left, nil
		}
		return c.eval(n.children[1])

	case ndOr:
		left, err := c.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		if Truthy(left) {
			return left, nil
		}
		return c.eval(n.children[1])

	case ndCond:
		cond, err := c.eval(n.children[1])
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return c.eval(n.children[0])
		}
		return c.eval(n.children[2])

	case ndCompare:
		return c.evalCompare(n)

	case ndArith:
		left, err := c.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		right, err := c.eval(n.children[1])
		if err != nil {
			return nil, err
		}
		return c.arith(n.value.(string), left, right)
	}

	return nil, c.fail(nil, "unknown node kind %d", n.kind)
}

func (c *evalContext) evalCompare(n *astNode) (any, error) {
	left, err := c.eval(n.children[0])
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := c.eval(n.children[i+1])
		if err != nil {
			return nil, err
		}
		ok, err := c.compare(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func (c *evalContext) compare(op string, a, b any) (bool, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	}

	cmp, ok := order(a, b)
	if !ok {
		return false, c.fail(ErrTypeMismatch, "'%s' not supported between %s and %s", op, typeName(a), typeName(b))
	}
	switch op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, c.fail(nil, "unknown comparison %q", op)
}

func (c *evalContext) arith(op string, a, b any) (any, error) {
	if op == "+" {
		if sa, ok := a.(string); ok {
			if sb, ok := b.(string); ok {
				return sa + sb, nil
			}
		}
	}

	x, okA := toFloat(a)
	y, okB := toFloat(b)
	if !okA || !okB {
		return nil, c.fail(ErrTypeMismatch, "unsupported operand types for %s: %s and %s", op, typeName(a), typeName(b))
	}

	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		if y == 0 {
			return nil, c.fail(ErrDivisionByZero, "division by zero")
		}
		return x / y, nil
	case "%":
		if y == 0 {
			return nil, c.fail(ErrDivisionByZero, "modulo by zero")
		}
		m := math.Mod(x, y)
		// Result takes the sign of the divisor.
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return m, nil
	}
	return nil, c.fail(nil, "unknown operator %q", op)
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
		return false
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case time.Time:
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return false
}

func order(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case ta < tb:
			return -1, true
		case ta > tb:
			return 1, true
		}
		return 0, true
	case time.Time:
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return 0, false
}

// toFloat widens Go numeric kinds. Booleans are not numbers here.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func normalize(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case time.Time:
		return "date"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
