package expr

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO date format used for date literals and rendering.
const DateLayout = "2006-01-02"

// Kind is the dynamic type of a Value.
type Kind int

// Value kinds. The zero Value has KindNone.
const (
	KindNone Kind = iota
	KindBool
	KindNumber
	KindString
	KindDate
	KindList
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	default:
		return "none"
	}
}

// Value is a tagged union over the types the evaluator produces. Values are
// immutable once constructed.
type Value struct {
	num    decimal.Decimal
	date   time.Time
	record map[string]Value
	str    string
	list   []Value
	kind   Kind
	b      bool
}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Num wraps a decimal number.
func Num(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

// Int wraps an integer.
func Int(i int) Value { return Num(decimal.NewFromInt(int64(i))) }

// Str wraps a string.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// Date wraps a calendar date; the time of day is discarded.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// List wraps a sequence of values.
func List(vs []Value) Value { return Value{kind: KindList, list: vs} }

// Record wraps a row of named values.
func Record(m map[string]Value) Value { return Value{kind: KindRecord, record: m} }

// StringRecord builds a record whose values are all strings, the shape of a
// data-source row.
func StringRecord(row map[string]string) Value {
	m := make(map[string]Value, len(row))
	for k, v := range row {
		m[k] = Str(v)
	}
	return Record(m)
}

// Kind returns the value's dynamic type.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsList returns the list payload.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsRecord returns the record payload.
func (v Value) AsRecord() (map[string]Value, bool) { return v.record, v.kind == KindRecord }

// AsNumber returns the value as a decimal, parsing strings when possible.
func (v Value) AsNumber() (decimal.Decimal, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		d, err := decimal.NewFromString(strings.TrimSpace(v.str))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case KindBool:
		if v.b {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	default:
		return decimal.Zero, false
	}
}

// AsDate returns the value as a date, parsing ISO strings when possible.
func (v Value) AsDate() (time.Time, bool) {
	switch v.kind {
	case KindDate:
		return v.date, true
	case KindString:
		t, err := time.Parse(DateLayout, strings.TrimSpace(v.str))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// Truthy follows the usual emptiness rules: false, zero, "", empty list and
// empty record are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return !v.num.IsZero()
	case KindString:
		return v.str != ""
	case KindDate:
		return !v.date.IsZero()
	case KindList:
		return len(v.list) > 0
	case KindRecord:
		return len(v.record) > 0
	default:
		return false
	}
}

// String renders the value as text. Numbers drop trailing zeros, dates use
// YYYY-MM-DD and lists are joined with ", ".
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return v.num.String()
	case KindString:
		return v.str
	case KindDate:
		return v.date.Format(DateLayout)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return strings.Join(parts, ", ")
	case KindRecord:
		keys := make([]string, 0, len(v.record))
		for k := range v.record {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.record[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return ""
	}
}

// Equal compares two values. Strings compare case-insensitively; a string
// compared with a number or date is coerced first, and values that cannot be
// coerced are unequal.
func Equal(a, b Value) bool {
	switch {
	case a.kind == KindString && b.kind == KindString:
		return strings.EqualFold(a.str, b.str)
	case a.kind == KindNumber || b.kind == KindNumber:
		if a.kind == KindDate || b.kind == KindDate {
			return false
		}
		x, ok1 := a.AsNumber()
		y, ok2 := b.AsNumber()
		return ok1 && ok2 && x.Equal(y)
	case a.kind == KindDate || b.kind == KindDate:
		x, ok1 := a.AsDate()
		y, ok2 := b.AsDate()
		return ok1 && ok2 && x.Equal(y)
	case a.kind == KindBool && b.kind == KindBool:
		return a.b == b.b
	case a.kind == KindList && b.kind == KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case a.kind == KindNone && b.kind == KindNone:
		return true
	default:
		return false
	}
}

// compare orders two values, returning -1, 0 or 1. ok is false when the values
// have no common ordering.
func compare(a, b Value) (int, bool) {
	switch {
	case a.kind == KindDate || b.kind == KindDate:
		x, ok1 := a.AsDate()
		y, ok2 := b.AsDate()
		if !ok1 || !ok2 {
			return 0, false
		}
		return x.Compare(y), true
	case a.kind == KindNumber || b.kind == KindNumber:
		x, ok1 := a.AsNumber()
		y, ok2 := b.AsNumber()
		if !ok1 || !ok2 {
			return 0, false
		}
		return x.Cmp(y), true
	case a.kind == KindString && b.kind == KindString:
		return strings.Compare(strings.ToUpper(a.str), strings.ToUpper(b.str)), true
	default:
		return 0, false
	}
}
