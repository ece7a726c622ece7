package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// AST
// ============================================================================

type nodeKind int

const (
	ndLiteral nodeKind = iota // number, string, bool, null
	ndName                    // bound variable
	ndNot                     // not a
	ndNegate                  // -a
	ndAnd                     // a and b
	ndOr                      // a or b
	ndCompare                 // a op b [op c ...]
	ndArith                   // a (+ - * / %) b
	ndCond                    // a if c else b
)

type astNode struct {
	kind     nodeKind
	value    any        // literal value, name, or arithmetic operator
	ops      []string   // comparison operators, one per adjacent operand pair
	children []*astNode // operands
}

// Program is a compiled expression. It is immutable and safe for concurrent use.
type Program struct {
	src   string
	root  *astNode
	names []string
}

// Source returns the expression text the program was compiled from.
func (p *Program) Source() string {
	return p.src
}

// Names returns the distinct names the program reads, in first-appearance order.
func (p *Program) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Compile parses src into a Program. A leading `$` on identifiers is accepted and
// dropped.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Expr: src, Msg: "empty expression"}
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, tokens: tokens, seen: map[string]bool{}}
	root, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tkEOF {
		return nil, &SyntaxError{Expr: src, Pos: tok.pos, Msg: fmt.Sprintf("unexpected token %q", tok.value)}
	}

	return &Program{src: src, root: root, names: p.names}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and constants.
func MustCompile(src string) *Program {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

// ============================================================================
// Parser (recursive descent with precedence climbing)
// ============================================================================

type parser struct {
	src    string
	tokens []token
	pos    int
	names  []string
	seen   map[string]bool
}

func (p *parser) peek() token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return token{kind: tkEOF, pos: len(p.src)}
}

func (p *parser) advance() token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.advance()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s but got %q", what, t.value)
	}
	return t, nil
}

func (p *parser) isKeyword(tok token, kw string) bool {
	return tok.kind == tkIdent && tok.value == kw
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Expr: p.src, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

// Precedence (lowest to highest):
//   a if c else b
//   or
//   and
//   not
//   == != < <= > >=   (chained)
//   + -
//   * / %
//   unary -
//   literal, name, ( )

func (p *parser) parseConditional() (*astNode, error) {
	then, err := p.parseBinary(precOr)
	if err != nil {
		return nil, err
	}
	if !p.isKeyword(p.peek(), "if") {
		return then, nil
	}
	p.advance()

	cond, err := p.parseBinary(precOr)
	if err != nil {
		return nil, err
	}
	if tok := p.advance(); !p.isKeyword(tok, "else") {
		return nil, p.errorf(tok, "expected 'else' but got %q", tok.value)
	}
	otherwise, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return &astNode{kind: ndCond, children: []*astNode{then, cond, otherwise}}, nil
}

const (
	precOr = iota + 1
	precAnd
	precNot
	precCompare
	precAdd
	precMul
)

func (p *parser) infixInfo(tok token) (int, nodeKind, string) {
	switch {
	case p.isKeyword(tok, "or"):
		return precOr, ndOr, "or"
	case p.isKeyword(tok, "and"):
		return precAnd, ndAnd, "and"
	case tok.kind == tkEq, tok.kind == tkNe, tok.kind == tkLt,
		tok.kind == tkGt, tok.kind == tkLe, tok.kind == tkGe:
		return precCompare, ndCompare, tok.value
	case tok.kind == tkPlus, tok.kind == tkMinus:
		return precAdd, ndArith, tok.value
	case tok.kind == tkStar, tok.kind == tkSlash, tok.kind == tkPercent:
		return precMul, ndArith, tok.value
	}
	return -1, 0, ""
}

func (p *parser) parseBinary(minPrec int) (*astNode, error) {
	left, err := p.parseUnary(minPrec)
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		prec, kind, op := p.infixInfo(tok)
		if prec < minPrec || prec < 0 {
			break
		}
		p.advance()

		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}

		switch {
		case kind == ndCompare && left.kind == ndCompare && !left.value.(bool):
			// Extend an unparenthesized chain: a < b < c.
			left.ops = append(left.ops, op)
			left.children = append(left.children, right)
		case kind == ndCompare:
			left = &astNode{kind: ndCompare, value: false, ops: []string{op}, children: []*astNode{left, right}}
		case kind == ndArith:
			left = &astNode{kind: ndArith, value: op, children: []*astNode{left, right}}
		default:
			left = &astNode{kind: kind, children: []*astNode{left, right}}
		}
	}
	return left, nil
}

func (p *parser) parseUnary(minPrec int) (*astNode, error) {
	tok := p.peek()
	if p.isKeyword(tok, "not") {
		if minPrec > precNot {
			return nil, p.errorf(tok, "'not' is not allowed here")
		}
		p.advance()
		operand, err := p.parseBinary(precNot)
		if err != nil {
			return nil, err
		}
		return &astNode{kind: ndNot, children: []*astNode{operand}}, nil
	}
	if tok.kind == tkMinus {
		p.advance()
		operand, err := p.parseUnary(precMul + 1)
		if err != nil {
			return nil, err
		}
		return &astNode{kind: ndNegate, children: []*astNode{operand}}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*astNode, error) {
	tok := p.advance()

	switch tok.kind {
	case tkNumber:
		f, err := strconv.ParseFloat(tok.value, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number %q", tok.value)
		}
		return &astNode{kind: ndLiteral, value: f}, nil

	case tkString:
		return &astNode{kind: ndLiteral, value: tok.value}, nil

	case tkLParen:
		inner, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		if inner.kind == ndCompare {
			// Parenthesized comparisons never join an outer chain.
			inner.value = true
		}
		return inner, nil

	case tkIdent:
		switch tok.value {
		case "True", "true":
			return &astNode{kind: ndLiteral, value: true}, nil
		case "False", "false":
			return &astNode{kind: ndLiteral, value: false}, nil
		case "None", "null":
			return &astNode{kind: ndLiteral, value: nil}, nil
		case "and", "or", "not", "if", "else":
			return nil, p.errorf(tok, "unexpected keyword %q", tok.value)
		}
		if p.peek().kind == tkLParen {
			return nil, p.errorf(tok, "function calls are not permitted: %s(", tok.value)
		}
		if !p.seen[tok.value] {
			p.seen[tok.value] = true
			p.names = append(p.names, tok.value)
		}
		return &astNode{kind: ndName, value: tok.value}, nil

	case tkEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	}

	return nil, p.errorf(tok, "unexpected token %q", tok.value)
}
