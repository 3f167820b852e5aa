package expr

import (
	"strings"
	"unicode"
)

// Tokenize splits an expression into tokens. The returned slice always ends
// with a TokenEOF token.
func Tokenize(text string) ([]Token, error) {
	runes := []rune(text)
	tokens := make([]Token, 0, len(runes)/3+1)

	i := 0
	for i < len(runes) {
		r := runes[i]
		pos := i + 1

		switch {
		case unicode.IsSpace(r):
			i++
			continue

		case r == '"' || r == '\'':
			s, next, err := scanString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Type: TokenString, Value: s, Pos: pos})
			i = next
			continue

		case isDigit(r) || (r == '.' && i+1 < len(runes) && isDigit(runes[i+1])):
			start := i
			seenDot := false
			for i < len(runes) && (isDigit(runes[i]) || (runes[i] == '.' && !seenDot && i+1 < len(runes) && isDigit(runes[i+1]))) {
				if runes[i] == '.' {
					seenDot = true
				}
				i++
			}
			tokens = append(tokens, Token{Type: TokenNumber, Value: string(runes[start:i]), Pos: pos})
			continue

		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			if kw, ok := keywords[strings.ToLower(word)]; ok {
				tokens = append(tokens, Token{Type: kw, Value: word, Pos: pos})
			} else {
				tokens = append(tokens, Token{Type: TokenIdent, Value: word, Pos: pos})
			}
			continue
		}

		tt, width := operator(runes, i)
		if width == 0 {
			return nil, &SyntaxError{
				Pos:  pos,
				Text: string(r),
				Msg:  "unexpected character",
			}
		}
		tokens = append(tokens, Token{Type: tt, Value: string(runes[i : i+width]), Pos: pos})
		i += width
	}

	tokens = append(tokens, Token{Type: TokenEOF, Pos: len(runes) + 1})
	return tokens, nil
}

func operator(runes []rune, i int) (TokenType, int) {
	next := rune(0)
	if i+1 < len(runes) {
		next = runes[i+1]
	}

	switch runes[i] {
	case '(':
		return TokenLParen, 1
	case ')':
		return TokenRParen, 1
	case '[':
		return TokenLBracket, 1
	case ']':
		return TokenRBracket, 1
	case ',':
		return TokenComma, 1
	case '.':
		return TokenDot, 1
	case '*':
		return TokenStar, 1
	case '+':
		return TokenPlus, 1
	case '-':
		return TokenMinus, 1
	case '/':
		return TokenSlash, 1
	case '=':
		if next == '=' {
			return TokenEq, 2
		}
	case '!':
		if next == '=' {
			return TokenNe, 2
		}
	case '>':
		if next == '=' {
			return TokenGe, 2
		}
		return TokenGt, 1
	case '<':
		if next == '=' {
			return TokenLe, 2
		}
		return TokenLt, 1
	}
	return TokenEOF, 0
}

// scanString reads a quoted literal starting at runes[start]. Recognized
// escapes are \\, \", \', \n and \t; any other backslash sequence is kept
// verbatim so regex patterns like "\d+" survive unchanged.
func scanString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder

	i := start + 1
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == quote:
			return b.String(), i + 1, nil
		case r == '\\' && i+1 < len(runes):
			switch esc := runes[i+1]; esc {
			case '\\', '"', '\'':
				b.WriteRune(esc)
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune('\\')
				b.WriteRune(esc)
			}
			i += 2
		default:
			b.WriteRune(r)
			i++
		}
	}

	return "", 0, &SyntaxError{
		Pos:  start + 1,
		Text: string(runes[start:]),
		Msg:  "unterminated string literal",
	}
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
