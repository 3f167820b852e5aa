package expr

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// DefaultFuzzyThreshold is the similarity fuzzy() requires when no threshold
// is given.
var DefaultFuzzyThreshold = decimal.RequireFromString("0.80")

// Similarity is 2*M/(len(a)+len(b)) where M is the longest common subsequence
// length. With substitutions costing two edits the Levenshtein ratio is
// exactly that quantity.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	return levenshtein.RatioForStrings(ra, rb, levenshtein.DefaultOptions)
}

// normalizeAlnum upper-cases s and drops everything but letters, digits and
// single spaces between words.
func normalizeAlnum(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToUpper(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// fuzzyMatch reports whether pattern approximately occurs in text. The
// pattern is compared against the whole text and against every window of
// consecutive words with the same word count as the pattern.
func fuzzyMatch(text, pattern string, threshold float64) bool {
	t := normalizeAlnum(text)
	p := normalizeAlnum(pattern)
	if p == "" {
		return false
	}
	if strings.Contains(t, p) {
		return true
	}
	if Similarity(t, p) >= threshold {
		return true
	}

	words := strings.Fields(t)
	n := len(strings.Fields(p))
	for size := n; size <= n+1; size++ {
		for i := 0; i+size <= len(words); i++ {
			if Similarity(strings.Join(words[i:i+size], " "), p) >= threshold {
				return true
			}
		}
	}
	return false
}
