package pattern

import (
	"strings"

	"github.com/Veraticus/tally/internal/rules"
)

// Shadows returns the rules that run before r and whose pattern text might
// overlap r's. In first-match mode such a rule can claim transactions r was
// written for. Rules without an extractable pattern are never reported.
func Shadows(r *rules.Rule, candidates []*rules.Rule) []*rules.Rule {
	text, ok := ExtractTextFromNode(r.Match)
	if !ok {
		return nil
	}

	var shadows []*rules.Rule
	for _, other := range candidates {
		if strings.EqualFold(other.Name, r.Name) || other.Priority <= r.Priority {
			continue
		}
		if other.IsTagOnly() {
			continue
		}
		otherText, ok := ExtractTextFromNode(other.Match)
		if ok && MightOverlap(text, otherText) {
			shadows = append(shadows, other)
		}
	}
	return shadows
}
