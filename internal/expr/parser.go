package expr

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Parser is a recursive-descent parser over a token stream.
//
// Precedence, lowest to highest:
//
//	or < and < not < comparison (== != > >= < <= has) < additive < multiplicative < unary minus < postfix < atoms
type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses text into an expression tree. The entire input must be
// consumed. The bare expression "*" parses to MatchAll.
func Parse(text string) (Node, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, &SyntaxError{Pos: 1, Msg: "empty expression"}
	}
	if len(tokens) == 2 && tokens[0].Type == TokenStar {
		return &MatchAll{P: tokens[0].Pos}, nil
	}

	p := &Parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, p.unexpected(tok, "end of expression")
	}
	return node, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) Node {
	n, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return n
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != tt {
		return tok, p.unexpected(tok, tt.String())
	}
	return p.next(), nil
}

func (p *Parser) unexpected(tok Token, expected string) error {
	if tok.Type == TokenEOF {
		return &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf("unexpected end of expression, expected %s", expected)}
	}
	return &SyntaxError{
		Pos:  tok.Pos,
		Text: tok.Value,
		Msg:  fmt.Sprintf("unexpected %s, expected %s", tok.Type, expected),
	}
}

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: TokenOr, Left: left, Right: right, P: op.Pos}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenAnd {
		op := p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: TokenAnd, Left: left, Right: right, P: op.Pos}
	}
	return left, nil
}

func (p *Parser) parseNot() (Node, error) {
	if p.peek().Type == TokenNot {
		op := p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: TokenNot, X: operand, P: op.Pos}, nil
	}
	return p.parseComparison()
}

// parseComparison does not chain: "a < b < c" is a syntax error.
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if !p.peek().Type.isComparison() {
		return left, nil
	}
	op := p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type.isComparison() {
		return nil, &SyntaxError{Pos: tok.Pos, Text: tok.Value, Msg: "comparisons cannot be chained"}
	}
	return &Binary{Op: op.Type, Left: left, Right: right, P: op.Pos}, nil
}

func (p *Parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for t := p.peek().Type; t == TokenPlus || t == TokenMinus; t = p.peek().Type {
		op := p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op.Type, Left: left, Right: right, P: op.Pos}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for t := p.peek().Type; t == TokenStar || t == TokenSlash; t = p.peek().Type {
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op.Type, Left: left, Right: right, P: op.Pos}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Node, error) {
	if p.peek().Type == TokenMinus {
		op := p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*Literal); ok && lit.Value.Kind() == KindNumber {
			d, _ := lit.Value.AsNumber()
			return &Literal{Value: Num(d.Neg()), P: op.Pos}, nil
		}
		return &Unary{Op: TokenMinus, X: operand, P: op.Pos}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Type {
		case TokenDot:
			dot := p.next()
			name, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			node = &Attr{X: node, Name: name.Value, P: dot.Pos}
		case TokenLBracket:
			open := p.next()
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			node = &Index{X: node, Index: idx, P: open.Pos}
		default:
			return node, nil
		}
	}
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()

	switch tok.Type {
	case TokenNumber:
		p.next()
		d, err := decimal.NewFromString(tok.Value)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.Pos, Text: tok.Value, Msg: "invalid number"}
		}
		return &Literal{Value: Num(d), P: tok.Pos}, nil

	case TokenString:
		p.next()
		return &Literal{Value: Str(tok.Value), P: tok.Pos}, nil

	case TokenTrue, TokenFalse:
		p.next()
		return &Literal{Value: Bool(tok.Type == TokenTrue), P: tok.Pos}, nil

	case TokenLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case TokenLBracket:
		return p.parseBracket()

	case TokenIdent:
		return p.parseName()

	case TokenStar:
		return nil, &SyntaxError{Pos: tok.Pos, Text: tok.Value, Msg: "'*' must be the whole expression"}
	}

	return nil, p.unexpected(tok, "expression")
}

// parseName handles identifiers, dotted field.x / txn.x references and calls.
func (p *Parser) parseName() (Node, error) {
	tok := p.next()
	lower := strings.ToLower(tok.Value)

	if (lower == "field" || lower == "txn") && p.peek().Type == TokenDot && p.peekAt(1).Type == TokenIdent {
		p.next()
		name := p.next()
		if lower == "field" {
			return &FieldRef{Name: name.Value, P: tok.Pos}, nil
		}
		return &TxnRef{Name: name.Value, P: tok.Pos}, nil
	}

	if p.peek().Type != TokenLParen {
		return &Ident{Name: tok.Value, P: tok.Pos}, nil
	}

	p.next()
	call := &Call{Name: lower, P: tok.Pos}
	if p.peek().Type == TokenRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		if p.peek().Type == TokenComma {
			p.next()
			continue
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return call, nil
	}
}

// parseArg parses a call argument, which may be an unbracketed generator.
func (p *Parser) parseArg() (Node, error) {
	start := p.peek().Pos
	elem, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokenFor {
		return elem, nil
	}
	comp, err := p.parseComprehensionTail(elem, start)
	if err != nil {
		return nil, err
	}
	comp.Generator = true
	return comp, nil
}

// parseBracket parses a list literal or a list comprehension.
func (p *Parser) parseBracket() (Node, error) {
	open := p.next()

	if p.peek().Type == TokenRBracket {
		p.next()
		return &ListLit{P: open.Pos}, nil
	}

	first, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.peek().Type == TokenFor {
		comp, err := p.parseComprehensionTail(first, open.Pos)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRBracket); err != nil {
			return nil, err
		}
		return comp, nil
	}

	list := &ListLit{Items: []Node{first}, P: open.Pos}
	for p.peek().Type == TokenComma {
		p.next()
		item, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Parser) parseComprehensionTail(elem Node, pos int) (*Comprehension, error) {
	if _, err := p.expect(TokenFor); err != nil {
		return nil, err
	}
	v, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenIn); err != nil {
		return nil, err
	}
	source, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	comp := &Comprehension{Elem: elem, Var: v.Value, Source: source, P: pos}
	if p.peek().Type == TokenIf {
		p.next()
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		comp.Cond = cond
	}
	return comp, nil
}
