// Package model defines the core data structures shared by the rule engine,
// its ingestion layers and its result sinks.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DataSources maps a supplemental source name to its rows. Rows are
// column-name to raw string value and are shared read-only between
// transactions.
type DataSources map[string][]map[string]string

// Transaction is a single columnized transaction ready for matching.
type Transaction struct {
	Date           time.Time
	Fields         map[string]string // Extra captured columns, addressed as field.<name>
	DataSources    DataSources
	ID             string
	Description    string
	RawDescription string // Description as it appeared in the source file
	Source         string // Data source name, e.g. "Amex"
	Location       string // Empty when unknown
	Amount         decimal.Decimal
}

// Field returns a captured field value.
func (t *Transaction) Field(name string) (string, bool) {
	v, ok := t.Fields[name]
	return v, ok
}

// GenerateHash creates a stable identifier for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.RawDescription,
		t.Source)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
