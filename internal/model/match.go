package model

// UnknownCategory is reported when no categorizing rule matched.
const UnknownCategory = "Unknown"

// RuleSource tells whether a rule came from the user's file or the baseline.
type RuleSource string

// Rule sources.
const (
	SourceUser     RuleSource = "user"
	SourceBaseline RuleSource = "baseline"
)

// MatchInfo describes the rule that decided a result. For a result produced
// only by tag-only rules RuleName and Pattern are empty.
type MatchInfo struct {
	RuleName  string     `json:"rule_name,omitempty"`
	Pattern   string     `json:"pattern,omitempty"`
	Source    RuleSource `json:"source"`
	MatchedOn string     `json:"matched_on"`
	Tags      []string   `json:"tags"`
}

// TraceStep records how one rule fared against a transaction.
type TraceStep struct {
	Rule        string   `json:"rule"`
	Reason      string   `json:"reason"`
	Tags        []string `json:"tags,omitempty"`
	Specificity int      `json:"specificity"`
	Matched     bool     `json:"matched"`
	Winner      bool     `json:"winner,omitempty"`
	TagOnly     bool     `json:"tag_only,omitempty"`
}

// MatchResult is the outcome of matching one transaction.
type MatchResult struct {
	MatchInfo   *MatchInfo        `json:"match_info"`
	ExtraFields map[string]string `json:"extra_fields,omitempty"`
	RawValues   map[string]string `json:"raw_values,omitempty"`
	Merchant    string            `json:"merchant"`
	Category    string            `json:"category"`
	Subcategory string            `json:"subcategory"`
	Tags        []string          `json:"tags"`
	Trace       []TraceStep       `json:"trace,omitempty"`
	Travel      bool              `json:"travel,omitempty"`
}

// Categorized reports whether a categorizing rule matched.
func (r *MatchResult) Categorized() bool {
	return r.MatchInfo != nil && r.MatchInfo.RuleName != ""
}

// HasTag reports whether tag is present.
func (r *MatchResult) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
