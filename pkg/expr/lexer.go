// Package expr implements the small, side-effect free expression language used by
// guideline documents: literals, comparisons, boolean connectives, arithmetic and the
// conditional form `a if c else b`. Variable references are written `$id` or
// `$id.accessor` and are bound by the caller through a name map.
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

// ============================================================================
// Token types
// ============================================================================

type tokenKind int

const (
	tkIdent   tokenKind = iota // identifier, keyword or dotted name
	tkNumber                   // integer or decimal
	tkString                   // 'single' or "double" quoted
	tkLParen                   // (
	tkRParen                   // )
	tkEq                       // ==
	tkNe                       // !=
	tkLt                       // <
	tkGt                       // >
	tkLe                       // <=
	tkGe                       // >=
	tkPlus                     // +
	tkMinus                    // -
	tkStar                     // *
	tkSlash                    // /
	tkPercent                  // %
	tkEOF                      // end-of-input
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func isIdentStart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch))
}

func isIdentPart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch))
}

// ============================================================================
// Lexer
// ============================================================================

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)

	for i < n {
		ch := input[i]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		start := i

		switch {
		case ch == '(':
			tokens = append(tokens, token{tkLParen, "(", start})
			i++
		case ch == ')':
			tokens = append(tokens, token{tkRParen, ")", start})
			i++
		case ch == '+':
			tokens = append(tokens, token{tkPlus, "+", start})
			i++
		case ch == '-':
			tokens = append(tokens, token{tkMinus, "-", start})
			i++
		case ch == '*':
			tokens = append(tokens, token{tkStar, "*", start})
			i++
		case ch == '/':
			tokens = append(tokens, token{tkSlash, "/", start})
			i++
		case ch == '%':
			tokens = append(tokens, token{tkPercent, "%", start})
			i++
		case ch == '=':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkEq, "==", start})
				i += 2
			} else {
				return nil, &SyntaxError{Expr: input, Pos: start, Msg: "assignment is not permitted, use '=='"}
			}
		case ch == '!':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkNe, "!=", start})
				i += 2
			} else {
				return nil, &SyntaxError{Expr: input, Pos: start, Msg: "unexpected character '!'"}
			}
		case ch == '<':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkLe, "<=", start})
				i += 2
			} else {
				tokens = append(tokens, token{tkLt, "<", start})
				i++
			}
		case ch == '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkGe, ">=", start})
				i += 2
			} else {
				tokens = append(tokens, token{tkGt, ">", start})
				i++
			}
		case ch == '\'' || ch == '"':
			quote := ch
			i++
			var sb strings.Builder
			for i < n && input[i] != quote {
				if input[i] == '\\' && i+1 < n {
					i++
					switch input[i] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						sb.WriteByte(input[i])
					}
				} else {
					sb.WriteByte(input[i])
				}
				i++
			}
			if i >= n {
				return nil, &SyntaxError{Expr: input, Pos: start, Msg: "unterminated string"}
			}
			i++
			tokens = append(tokens, token{tkString, sb.String(), start})
		case ch >= '0' && ch <= '9':
			j := i
			for j < n && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			if j+1 < n && input[j] == '.' && input[j+1] >= '0' && input[j+1] <= '9' {
				j++
				for j < n && input[j] >= '0' && input[j] <= '9' {
					j++
				}
			}
			if j < n && isIdentStart(input[j]) {
				return nil, &SyntaxError{Expr: input, Pos: j, Msg: fmt.Sprintf("malformed number %q", input[i:j+1])}
			}
			tokens = append(tokens, token{tkNumber, input[i:j], start})
			i = j
		case ch == '$' || isIdentStart(ch):
			// `$` only marks a variable reference; the bound name is the bare identifier.
			if ch == '$' {
				i++
				if i >= n || !isIdentStart(input[i]) {
					return nil, &SyntaxError{Expr: input, Pos: start, Msg: "'$' must be followed by an identifier"}
				}
			}
			j := i
			for j < n {
				if isIdentPart(input[j]) {
					j++
					continue
				}
				if input[j] == '.' && j+1 < n && isIdentStart(input[j+1]) {
					j++
					continue
				}
				break
			}
			tokens = append(tokens, token{tkIdent, input[i:j], start})
			i = j
		default:
			return nil, &SyntaxError{Expr: input, Pos: start, Msg: fmt.Sprintf("unexpected character %q", string(ch))}
		}
	}

	tokens = append(tokens, token{tkEOF, "", n})
	return tokens, nil
}
