// Package query implements the filter language used to search the catalog,
// e.g. "type=table lineage:events" or "!(stage:raw OR location~^s3://tmp/)".
//
// Terms are implicitly joined by AND. AND binds tighter than OR, and '!'
// negates the following term or group.
package query

import (
	"fmt"
	"strings"
	"unicode"
)

// Expression is a node of a parsed query.
// String returns a canonical form that parses to the same expression.
type Expression interface {
	String() string
}

// Term matches a value against the entity ID.
type Term struct {
	Value string
}

func (t *Term) String() string {
	return quote(t.Value)
}

// AttributeTerm matches a value against the values of an attribute.
// Operator is one of ":" (substring), "=" (equality) or "~" (regular expression).
type AttributeTerm struct {
	Attribute string
	Operator  string
	Value     string
}

func (at *AttributeTerm) String() string {
	return at.Attribute + at.Operator + quote(at.Value)
}

type NotExpression struct {
	Expression Expression
}

func (ne *NotExpression) String() string {
	return "!" + ne.Expression.String()
}

// BinaryExpression joins two expressions with "AND" or "OR".
type BinaryExpression struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (be *BinaryExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", be.Left, be.Operator, be.Right)
}

func quote(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return unicode.IsSpace(r) || isSpecial(r) }) {
		return "'" + s + "'"
	}
	return s
}

// Lexer

type tokenType int

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenString
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
	tokenOperator // ':', '=' or '~'
)

var tokenNames = map[tokenType]string{
	tokenIllegal:    "ILLEGAL",
	tokenEOF:        "EOF",
	tokenIdentifier: "IDENTIFIER",
	tokenString:     "STRING",
	tokenAnd:        "AND",
	tokenOr:         "OR",
	tokenNot:        "NOT",
	tokenLParen:     "LPAREN",
	tokenRParen:     "RPAREN",
	tokenOperator:   "OPERATOR",
}

func (t tokenType) String() string {
	return tokenNames[t]
}

type token struct {
	typ tokenType
	lit string
}

func isSpecial(r rune) bool {
	return strings.ContainsRune("()!:=~'\"", r)
}

// tokenize splits input into tokens, ending with a tokenEOF.
func tokenize(input string) []token {
	var tokens []token
	rs := []rune(input)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case r == '!':
			tokens = append(tokens, token{tokenNot, "!"})
			i++
		case r == ':' || r == '=' || r == '~':
			tokens = append(tokens, token{tokenOperator, string(r)})
			i++
		case r == '\'' || r == '"':
			// An unterminated string runs to the end of the input.
			j := i + 1
			for j < len(rs) && rs[j] != r {
				j++
			}
			tokens = append(tokens, token{tokenString, string(rs[i+1 : j])})
			i = j + 1
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && !isSpecial(rs[j]) {
				j++
			}
			switch lit := string(rs[i:j]); lit {
			case "AND":
				tokens = append(tokens, token{tokenAnd, lit})
			case "OR":
				tokens = append(tokens, token{tokenOr, lit})
			default:
				tokens = append(tokens, token{tokenIdentifier, lit})
			}
			i = j
		}
	}
	return append(tokens, token{tokenEOF, ""})
}

// Parser (precedence climbing)

const (
	precedenceLowest = iota
	precedenceOr
	precedenceAnd
	precedenceNot
)

type parser struct {
	tokens []token
	pos    int
	errors []string
}

func (p *parser) cur() token  { return p.tokens[p.pos] }
func (p *parser) peek() token { return p.tokens[min(p.pos+1, len(p.tokens)-1)] }

func (p *parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

// Parse parses a query string. The empty query is an error.
func Parse(input string) (Expression, error) {
	p := &parser{tokens: tokenize(input)}
	expr := p.parseExpression(precedenceLowest)
	if len(p.errors) == 0 && p.peek().typ != tokenEOF {
		p.errorf("unexpected token at start of expression: %s", p.peek().typ)
	}
	if len(p.errors) > 0 {
		return nil, fmt.Errorf("invalid query %q: %s", input, strings.Join(p.errors, "; "))
	}
	return expr, nil
}

// infixPrecedence returns the precedence of the operator following the
// current expression. A term start means an implicit AND.
func (p *parser) infixPrecedence() int {
	switch p.peek().typ {
	case tokenOr:
		return precedenceOr
	case tokenAnd, tokenIdentifier, tokenString, tokenNot, tokenLParen:
		return precedenceAnd
	}
	return precedenceLowest
}

func (p *parser) parseExpression(precedence int) Expression {
	var left Expression
	switch p.cur().typ {
	case tokenNot:
		p.advance()
		inner := p.parseExpression(precedenceNot)
		if inner == nil {
			return nil
		}
		left = &NotExpression{Expression: inner}
	case tokenIdentifier, tokenString:
		left = p.parseTerm()
	case tokenLParen:
		left = p.parseGroup()
	default:
		p.errorf("unexpected token at start of expression: %s", p.cur().typ)
		return nil
	}

	for left != nil && precedence < p.infixPrecedence() {
		next := p.infixPrecedence()
		op := "AND"
		if t := p.peek().typ; t == tokenAnd || t == tokenOr {
			op = p.peek().lit
			p.advance()
		}
		p.advance()
		right := p.parseExpression(next)
		if right == nil {
			return nil
		}
		left = &BinaryExpression{Left: left, Operator: op, Right: right}
	}
	return left
}

func (p *parser) parseTerm() Expression {
	if p.cur().typ == tokenIdentifier && p.peek().typ == tokenOperator {
		at := &AttributeTerm{Attribute: p.cur().lit}
		p.advance()
		at.Operator = p.cur().lit
		p.advance()
		if t := p.cur().typ; t != tokenIdentifier && t != tokenString {
			p.errorf("expected identifier or string for attribute value, got %s", t)
			return nil
		}
		at.Value = p.cur().lit
		return at
	}
	return &Term{Value: p.cur().lit}
}

func (p *parser) parseGroup() Expression {
	p.advance() // '('
	expr := p.parseExpression(precedenceLowest)
	if expr == nil {
		return nil
	}
	if p.peek().typ != tokenRParen {
		p.errorf("expected ')' to close group, got %s", p.peek().typ)
		return nil
	}
	p.advance()
	return expr
}
