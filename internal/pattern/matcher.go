// Package pattern provides heuristics over rule patterns: pulling the
// literal text out of a match expression, guessing whether two patterns
// overlap, and suggesting descriptions a rule probably meant to match.
package pattern

import (
	"regexp"
	"strings"

	"github.com/Veraticus/tally/internal/expr"
)

// Functions whose first string argument is the text a rule looks for.
var textFunctions = map[string]bool{
	"regex":      true,
	"contains":   true,
	"startswith": true,
}

var textFallback = regexp.MustCompile(`(?:regex|contains|startswith)\(\s*["']([^"']+)["']\s*\)`)

// ExtractText returns the literal text a match expression searches for,
// e.g. NETFLIX for regex("NETFLIX"). It prefers the first regex, contains
// or startswith call in the parsed expression and falls back to scanning
// the text when it does not parse.
func ExtractText(matchExpr string) (string, bool) {
	node, err := expr.Parse(matchExpr)
	if err != nil {
		if m := textFallback.FindStringSubmatch(matchExpr); m != nil {
			return m[1], true
		}
		return "", false
	}
	return ExtractTextFromNode(node)
}

// ExtractTextFromNode is ExtractText for an already parsed expression.
func ExtractTextFromNode(node expr.Node) (string, bool) {
	var found string
	expr.Walk(node, func(n expr.Node) bool {
		if found != "" {
			return false
		}
		call, ok := n.(*expr.Call)
		if !ok || !textFunctions[call.Name] {
			return true
		}
		for _, arg := range call.Args {
			lit, ok := arg.(*expr.Literal)
			if !ok || lit.Value.Kind() != expr.KindString {
				continue
			}
			if s := lit.Value.String(); s != "" {
				found = s
				return false
			}
		}
		return true
	})
	return found, found != ""
}

// MightOverlap reports whether two pattern texts could match the same
// descriptions: one contains the other, or they share a word.
func MightOverlap(a, b string) bool {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	words := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		words[w] = true
	}
	for _, w := range strings.Fields(b) {
		if words[w] {
			return true
		}
	}
	return false
}
