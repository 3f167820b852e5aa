// Package ingest turns columnized statement files into transactions and
// loads the supplemental data sources rules can query.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/model"
)

// Errors reported for unusable input.
var (
	ErrNoHeader      = errors.New("file has no header row")
	ErrMissingColumn = errors.New("required column not found")
	ErrBadAmount     = errors.New("invalid amount")
	ErrBadDate       = errors.New("invalid date")
)

// DefaultDateFormat is used when ColumnSpec.DateFormat is empty.
const DefaultDateFormat = "01/02/2006"

var (
	trailingLocation = regexp.MustCompile(`\s+([A-Z]{2})\s*$`)
	currencySymbols  = regexp.MustCompile(`[$€£¥]`)
	currencyCodes    = regexp.MustCompile(`(?i)\b(?:kr|zł|lei|leu|PLN|RON|EUR|GBP|USD|JPY)\b`)
	fieldName        = regexp.MustCompile(`[^a-z0-9]+`)
)

// Header fragments recognized when a column is not named explicitly. A
// header belongs to the first concept whose fragment it contains.
var (
	dateHeaders        = []string{"date", "trans date", "transaction date", "posting date", "trans_date"}
	descriptionHeaders = []string{"description", "merchant", "payee", "memo", "name", "merchant name"}
	amountHeaders      = []string{"amount", "debit", "charge", "transaction amount", "payment"}
	locationHeaders    = []string{"location", "city", "state", "city/state", "region"}
)

// ColumnSpec maps a CSV file's columns to transaction attributes. Column
// names are matched case-insensitively; empty names are auto-detected.
type ColumnSpec struct {
	Date         string
	Description  string
	Amount       string
	Location     string
	Source       string // Column holding the source; SourceName is used when absent
	SourceName   string
	DateFormat   string // Go time layout
	Delimiter    rune
	DecimalComma bool // Amounts use ',' as the decimal separator
	Negate       bool // Flip signs, for exports where charges are negative
	Abs          bool // Use absolute amounts
}

// RowError describes a row that could not be read. Such rows are skipped.
type RowError struct {
	Err  error
	Line int
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

type columns struct {
	names    []string
	date     int
	desc     int
	amount   int
	location int
	source   int
}

func (c columns) mapped(i int) bool {
	return i == c.date || i == c.desc || i == c.amount || i == c.location || i == c.source
}

func (spec ColumnSpec) resolve(header []string) (columns, error) {
	idx := indexMap(header)
	c := columns{names: header, date: -1, desc: -1, amount: -1, location: -1, source: -1}

	named := func(name string) (int, bool) {
		i, ok := idx[strings.ToLower(strings.TrimSpace(name))]
		return i, ok
	}
	for _, col := range []struct {
		dst  *int
		name string
	}{
		{&c.date, spec.Date}, {&c.desc, spec.Description}, {&c.amount, spec.Amount},
		{&c.location, spec.Location}, {&c.source, spec.Source},
	} {
		if col.name == "" {
			continue
		}
		i, ok := named(col.name)
		if !ok {
			return c, fmt.Errorf("%w: %q", ErrMissingColumn, col.name)
		}
		*col.dst = i
	}

	for i, h := range header {
		if c.mapped(i) {
			continue
		}
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case c.date < 0 && containsAny(h, dateHeaders):
			c.date = i
		case c.desc < 0 && containsAny(h, descriptionHeaders):
			c.desc = i
		case c.amount < 0 && containsAny(h, amountHeaders):
			c.amount = i
		case c.location < 0 && containsAny(h, locationHeaders):
			c.location = i
		case c.source < 0 && h == "source":
			c.source = i
		}
	}

	var missing []string
	if c.date < 0 {
		missing = append(missing, "date")
	}
	if c.desc < 0 {
		missing = append(missing, "description")
	}
	if c.amount < 0 {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("%w: %s (headers: %s)", ErrMissingColumn, strings.Join(missing, ", "), strings.Join(header, ", "))
	}
	return c, nil
}

// ReadTransactions reads a CSV statement with a header row. Rows with a
// blank date, description or amount and rows with a zero amount are
// skipped silently; rows that fail to parse are returned as RowErrors.
// Columns not mapped to an attribute are captured as fields named by their
// lowercased header.
func ReadTransactions(r io.Reader, spec ColumnSpec) ([]model.Transaction, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if spec.Delimiter != 0 {
		cr.Comma = spec.Delimiter
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrNoHeader
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := spec.resolve(header)
	if err != nil {
		return nil, nil, err
	}

	layout := spec.DateFormat
	if layout == "" {
		layout = DefaultDateFormat
	}

	var (
		txns    []model.Transaction
		rowErrs []RowError
	)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rowErrs = append(rowErrs, RowError{Line: parseErr.Line, Err: err})
				continue
			}
			return nil, nil, fmt.Errorf("failed to read statement: %w", err)
		}
		line, _ := cr.FieldPos(0)

		txn, ok, err := spec.transaction(record, cols, layout)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}
		if ok {
			txns = append(txns, txn)
		}
	}
	return txns, rowErrs, nil
}

func (spec ColumnSpec) transaction(record []string, cols columns, layout string) (model.Transaction, bool, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	dateText, desc, amountText := cell(cols.date), cell(cols.desc), cell(cols.amount)
	if dateText == "" || desc == "" || amountText == "" {
		return model.Transaction{}, false, nil
	}

	date, err := ParseDate(dateText, layout)
	if err != nil {
		return model.Transaction{}, false, err
	}
	amount, err := ParseAmount(amountText, spec.DecimalComma)
	if err != nil {
		return model.Transaction{}, false, err
	}
	switch {
	case spec.Abs:
		amount = amount.Abs()
	case spec.Negate:
		amount = amount.Neg()
	}
	if amount.IsZero() {
		return model.Transaction{}, false, nil
	}

	location := cell(cols.location)
	if location == "" {
		location = ExtractLocation(desc)
	}
	source := cell(cols.source)
	if source == "" {
		source = spec.SourceName
	}

	fields := make(map[string]string)
	for i, name := range cols.names {
		if cols.mapped(i) {
			continue
		}
		if key := FieldName(name); key != "" {
			fields[key] = cell(i)
		}
	}

	txn := model.Transaction{
		Date:           date,
		Description:    desc,
		RawDescription: desc,
		Amount:         amount,
		Location:       location,
		Source:         source,
		Fields:         fields,
	}
	txn.ID = txn.GenerateHash()
	return txn, true, nil
}

// ParseDate parses text with layout. When the layout has no space, anything
// after the first space is ignored ("01/02/2017  Mon"). ISO dates are
// accepted regardless of layout.
func ParseDate(text, layout string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if !strings.Contains(layout, " ") {
		if i := strings.IndexByte(text, ' '); i > 0 {
			text = text[:i]
		}
	}
	if t, err := time.Parse(layout, text); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q does not match %s", ErrBadDate, text, layout)
}

// ParseAmount parses a statement amount. Parentheses mean negative;
// currency symbols and codes are ignored; thousands separators are dropped.
// With decimalComma, "1.234,56" reads as 1234.56.
func ParseAmount(text string, decimalComma bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(currencySymbols.ReplaceAllString(s, ""))
	s = strings.TrimSpace(currencyCodes.ReplaceAllString(s, ""))

	if decimalComma {
		s = strings.NewReplacer(".", "", " ", "").Replace(s)
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrBadAmount, text)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ExtractLocation returns a trailing two-letter state or country code, or
// "" when the description has none.
func ExtractLocation(description string) string {
	if m := trailingLocation.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	return ""
}

// FieldName normalizes a column header for use as field.<name>.
func FieldName(header string) string {
	return strings.Trim(fieldName.ReplaceAllString(strings.ToLower(header), "_"), "_")
}

// ReadFile opens path and reads it with ReadTransactions. The source name
// defaults to the file name without extension.
func ReadFile(path string, spec ColumnSpec) ([]model.Transaction, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open statement: %w", err)
	}
	defer func() { _ = f.Close() }()

	if spec.SourceName == "" {
		spec.SourceName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return ReadTransactions(f, spec)
}

func indexMap(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		m[strings.ToLower(h)] = i
	}
	return m
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
