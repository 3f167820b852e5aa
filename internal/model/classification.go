package model

import "time"

// ClassificationStatus indicates how a transaction fared in a batch run.
type ClassificationStatus string

// Classification status constants.
const (
	StatusUnmatched   ClassificationStatus = "UNMATCHED"
	StatusCategorized ClassificationStatus = "CATEGORIZED"
	StatusTagged      ClassificationStatus = "TAGGED_ONLY"
	StatusFailed      ClassificationStatus = "FAILED"
)

// Classification pairs a transaction with its match result.
type Classification struct {
	ClassifiedAt time.Time
	Result       *MatchResult
	Error        string
	Status       ClassificationStatus
	Transaction  Transaction
}

// StatusOf derives the status for a result, or StatusFailed when err is set.
func StatusOf(result *MatchResult, err error) ClassificationStatus {
	switch {
	case err != nil:
		return StatusFailed
	case result == nil || result.MatchInfo == nil:
		return StatusUnmatched
	case result.Categorized():
		return StatusCategorized
	default:
		return StatusTagged
	}
}
