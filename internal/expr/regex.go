package expr

import (
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

// regexTimeout bounds a single match so a pathological backtracking pattern
// cannot stall a batch.
const regexTimeout = 2 * time.Second

// CompileRegex compiles a case-insensitive backtracking pattern. Lookahead
// and lookbehind are supported.
func CompileRegex(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = regexTimeout
	return re, nil
}

func regexMatch(re *regexp2.Regexp, s string) (bool, error) {
	return re.MatchString(s)
}

// regexExtract returns the first capture group of the first match, the whole
// match for patterns without groups, or "" when nothing matches.
func regexExtract(re *regexp2.Regexp, s string) (string, error) {
	m, err := re.FindStringMatch(s)
	if err != nil || m == nil {
		return "", err
	}
	groups := m.Groups()
	if len(groups) > 1 {
		return groups[1].String(), nil
	}
	return m.String(), nil
}

var backrefPattern = regexp.MustCompile(`\\(\d+)`)

// regexReplaceAll replaces every match. Replacements may use \1 or $1 group
// references.
func regexReplaceAll(re *regexp2.Regexp, s, repl string) (string, error) {
	repl = backrefPattern.ReplaceAllString(repl, `$${$1}`)
	return re.Replace(s, repl, -1, -1)
}
