package engine

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

// txnEnv is the effective transaction a single Match call evaluates against.
// It starts as a copy of the input and is rewritten by field transforms.
type txnEnv struct {
	date        time.Time
	fields      map[string]string
	raw         map[string]string
	sources     model.DataSources
	rows        map[string][]expr.Value
	description string
	rawDesc     string
	source      string
	location    string
	amount      decimal.Decimal
}

func newTxnEnv(txn *model.Transaction) *txnEnv {
	fields := make(map[string]string, len(txn.Fields))
	for k, v := range txn.Fields {
		fields[k] = v
	}
	rawDesc := txn.RawDescription
	if rawDesc == "" {
		rawDesc = txn.Description
	}
	return &txnEnv{
		date:        txn.Date,
		fields:      fields,
		sources:     txn.DataSources,
		description: txn.Description,
		rawDesc:     rawDesc,
		source:      txn.Source,
		location:    txn.Location,
		amount:      txn.Amount,
	}
}

func (e *txnEnv) Lookup(name string) (expr.Value, bool) {
	switch name {
	case "description":
		return expr.Str(e.description), true
	case "raw_description":
		return expr.Str(e.rawDesc), true
	case "amount":
		return expr.Num(e.amount), true
	case "date":
		return expr.Date(e.date), true
	case "month":
		return expr.Int(int(e.date.Month())), true
	case "year":
		return expr.Int(e.date.Year()), true
	case "day":
		return expr.Int(e.date.Day()), true
	case "weekday":
		return expr.Int(int(e.date.Weekday())), true
	case "source":
		return expr.Str(e.source), true
	case "location":
		return expr.Str(e.location), true
	}
	return expr.Value{}, false
}

// Field resolves built-in fields first, then captured columns, then the
// _raw_ values saved by transforms.
func (e *txnEnv) Field(name string) (expr.Value, bool) {
	switch strings.ToLower(name) {
	case "description", "amount", "date", "source":
		return e.Lookup(strings.ToLower(name))
	case "location":
		if e.location != "" {
			return expr.Str(e.location), true
		}
	}
	if v, ok := e.fields[name]; ok {
		return expr.Str(v), true
	}
	if orig, ok := strings.CutPrefix(name, "_raw_"); ok {
		if v, ok := e.raw[orig]; ok {
			return expr.Str(v), true
		}
	}
	return expr.Value{}, false
}

// Rows converts a data source to records once per Match call.
func (e *txnEnv) Rows(source string) ([]expr.Value, bool) {
	if rows, ok := e.rows[source]; ok {
		return rows, true
	}
	raw, ok := e.sources[source]
	if !ok {
		return nil, false
	}
	rows := make([]expr.Value, len(raw))
	for i, r := range raw {
		rows[i] = expr.StringRecord(r)
	}
	if e.rows == nil {
		e.rows = make(map[string][]expr.Value)
	}
	e.rows[source] = rows
	return rows, true
}

// current returns a field's present value as text.
func (e *txnEnv) current(field string) (string, bool) {
	v, ok := e.Field(field)
	if !ok {
		return "", false
	}
	return v.String(), true
}

// set writes a transformed value, remembering the first original.
func (e *txnEnv) set(field string, v expr.Value) error {
	if old, ok := e.current(field); ok {
		if e.raw == nil {
			e.raw = make(map[string]string)
		}
		if _, seen := e.raw[field]; !seen {
			e.raw[field] = old
		}
	}

	switch strings.ToLower(field) {
	case "description":
		e.description = v.String()
	case "source":
		e.source = v.String()
	case "location":
		e.location = v.String()
	case "amount":
		d, ok := v.AsNumber()
		if !ok {
			return &expr.EvalError{Kind: expr.TypeMismatch, Msg: "field.amount must be a number, got " + v.String()}
		}
		e.amount = d
	case "date":
		t, ok := v.AsDate()
		if !ok {
			return &expr.EvalError{Kind: expr.TypeMismatch, Msg: "field.date must be YYYY-MM-DD, got " + v.String()}
		}
		e.date = t
	default:
		e.fields[field] = v.String()
	}
	return nil
}

// applyTransforms rewrites fields in file order. A transform that reads an
// undefined field is skipped for this transaction.
func (e *txnEnv) applyTransforms(transforms []rules.Transform) error {
	for _, t := range transforms {
		v, err := expr.Eval(t.Expr, expr.NewScope(e))
		if err != nil {
			if expr.IsUndefined(err) {
				continue
			}
			return &RuleError{Rule: "field." + t.Field, Directive: "transform", Err: err}
		}
		if err := e.set(t.Field, v); err != nil {
			return &RuleError{Rule: "field." + t.Field, Directive: "transform", Err: err}
		}
	}
	return nil
}

// rawValues returns the originals of transformed fields keyed _raw_<field>.
func (e *txnEnv) rawValues() map[string]string {
	if len(e.raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.raw))
	for k, v := range e.raw {
		out["_raw_"+k] = v
	}
	return out
}
