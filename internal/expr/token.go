// Package expr implements the rule expression language: a lexer, a
// recursive-descent parser producing an AST, and an evaluator over a
// transaction context.
package expr

import "fmt"

// TokenType identifies the lexical class of a token.
type TokenType int

// Token types.
const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenNumber
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenDot
	TokenStar
	TokenPlus
	TokenMinus
	TokenSlash
	TokenEq
	TokenNe
	TokenGt
	TokenGe
	TokenLt
	TokenLe
	TokenAnd
	TokenOr
	TokenNot
	TokenHas
	TokenFor
	TokenIn
	TokenIf
	TokenTrue
	TokenFalse
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "end of expression",
	TokenIdent:    "identifier",
	TokenString:   "string",
	TokenNumber:   "number",
	TokenLParen:   "'('",
	TokenRParen:   "')'",
	TokenLBracket: "'['",
	TokenRBracket: "']'",
	TokenComma:    "','",
	TokenDot:      "'.'",
	TokenStar:     "'*'",
	TokenPlus:     "'+'",
	TokenMinus:    "'-'",
	TokenSlash:    "'/'",
	TokenEq:       "'=='",
	TokenNe:       "'!='",
	TokenGt:       "'>'",
	TokenGe:       "'>='",
	TokenLt:       "'<'",
	TokenLe:       "'<='",
	TokenAnd:      "'and'",
	TokenOr:       "'or'",
	TokenNot:      "'not'",
	TokenHas:      "'has'",
	TokenFor:      "'for'",
	TokenIn:       "'in'",
	TokenIf:       "'if'",
	TokenTrue:     "'true'",
	TokenFalse:    "'false'",
}

// String returns a human readable name for the token type.
func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return "unknown"
}

// keywords are matched case-insensitively so "AND" and "and" are equivalent.
var keywords = map[string]TokenType{
	"and":   TokenAnd,
	"or":    TokenOr,
	"not":   TokenNot,
	"has":   TokenHas,
	"for":   TokenFor,
	"in":    TokenIn,
	"if":    TokenIf,
	"true":  TokenTrue,
	"false": TokenFalse,
}

// Token is a single lexical unit. Pos is the 1-based character offset of the
// token's first rune in the source text.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %d", t.Type, t.Value, t.Pos)
}

func (tt TokenType) isComparison() bool {
	switch tt {
	case TokenEq, TokenNe, TokenGt, TokenGe, TokenLt, TokenLe, TokenHas:
		return true
	default:
		return false
	}
}
