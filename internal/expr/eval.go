package expr

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Eval evaluates n within scope. Evaluation has no side effects; the same
// node and context always produce the same result.
func Eval(n Node, scope *Scope) (Value, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil

	case *MatchAll:
		return Bool(true), nil

	case *Ident:
		return evalIdent(n, scope)

	case *FieldRef:
		if v, ok := scope.env.Field(n.Name); ok {
			return v, nil
		}
		return Value{}, evalErr(UndefinedField, n, "field %q is not defined for this transaction", n.Name)

	case *TxnRef:
		if v, ok := scope.env.Lookup(strings.ToLower(n.Name)); ok {
			return v, nil
		}
		if v, ok := scope.env.Field(n.Name); ok {
			return v, nil
		}
		return Value{}, evalErr(UndefinedField, n, "transaction has no %q", n.Name)

	case *Attr:
		return evalAttr(n, scope)

	case *Index:
		return evalIndex(n, scope)

	case *Call:
		return evalCall(n, scope)

	case *Unary:
		return evalUnary(n, scope)

	case *Binary:
		return evalBinary(n, scope)

	case *ListLit:
		items := make([]Value, len(n.Items))
		for i, item := range n.Items {
			v, err := Eval(item, scope)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items), nil

	case *Comprehension:
		return evalComprehension(n, scope)
	}

	return Value{}, evalErr(TypeMismatch, n, "unsupported expression")
}

// EvalBool evaluates n and requires a boolean result.
func EvalBool(n Node, scope *Scope) (bool, error) {
	v, err := Eval(n, scope)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, evalErr(TypeMismatch, n, "expected a boolean, got %s", v.Kind())
	}
	return b, nil
}

// Variables shadow context names, which shadow data sources.
func evalIdent(n *Ident, scope *Scope) (Value, error) {
	if v, ok, err := scope.Get(n.Name); ok {
		return v, err
	}
	if v, ok := scope.env.Lookup(strings.ToLower(n.Name)); ok {
		return v, nil
	}
	if rows, ok := scope.env.Rows(n.Name); ok {
		return List(rows), nil
	}
	return Value{}, evalErr(UndefinedField, n, "undefined name %q", n.Name)
}

func evalAttr(n *Attr, scope *Scope) (Value, error) {
	x, err := Eval(n.X, scope)
	if err != nil {
		return Value{}, err
	}
	rec, ok := x.AsRecord()
	if !ok {
		return Value{}, evalErr(TypeMismatch, n, "cannot read %q from a %s", n.Name, x.Kind())
	}
	if v, ok := rec[n.Name]; ok {
		return v, nil
	}
	for k, v := range rec {
		if strings.EqualFold(k, n.Name) {
			return v, nil
		}
	}
	return Value{}, evalErr(UndefinedField, n, "row has no column %q", n.Name)
}

func evalIndex(n *Index, scope *Scope) (Value, error) {
	x, err := Eval(n.X, scope)
	if err != nil {
		return Value{}, err
	}
	idx, err := Eval(n.Index, scope)
	if err != nil {
		return Value{}, err
	}

	if rec, ok := x.AsRecord(); ok {
		if v, ok := rec[idx.String()]; ok {
			return v, nil
		}
		return Value{}, evalErr(UndefinedField, n, "row has no column %q", idx.String())
	}

	d, ok := idx.AsNumber()
	if !ok || !d.IsInteger() {
		return Value{}, evalErr(TypeMismatch, n, "index must be an integer")
	}
	i := int(d.IntPart())

	switch x.Kind() {
	case KindList:
		items, _ := x.AsList()
		if i < 0 {
			i += len(items)
		}
		if i < 0 || i >= len(items) {
			return Value{}, evalErr(OutOfRange, n, "index %d out of range for %d items", d.IntPart(), len(items))
		}
		return items[i], nil
	case KindString:
		runes := []rune(x.String())
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return Value{}, evalErr(OutOfRange, n, "index %d out of range", d.IntPart())
		}
		return Str(string(runes[i])), nil
	}
	return Value{}, evalErr(TypeMismatch, n, "cannot index a %s", x.Kind())
}

func evalUnary(n *Unary, scope *Scope) (Value, error) {
	if n.Op == TokenNot {
		b, err := EvalBool(n.X, scope)
		if err != nil {
			return Value{}, err
		}
		return Bool(!b), nil
	}

	v, err := Eval(n.X, scope)
	if err != nil {
		return Value{}, err
	}
	d, ok := v.AsNumber()
	if !ok {
		return Value{}, evalErr(TypeMismatch, n, "cannot negate a %s", v.Kind())
	}
	return Num(d.Neg()), nil
}

func evalBinary(n *Binary, scope *Scope) (Value, error) {
	switch n.Op {
	case TokenAnd:
		l, err := EvalBool(n.Left, scope)
		if err != nil || !l {
			return Bool(false), err
		}
		r, err := EvalBool(n.Right, scope)
		return Bool(r), err

	case TokenOr:
		l, err := EvalBool(n.Left, scope)
		if err != nil {
			return Value{}, err
		}
		if l {
			return Bool(true), nil
		}
		r, err := EvalBool(n.Right, scope)
		return Bool(r), err
	}

	l, err := Eval(n.Left, scope)
	if err != nil {
		return Value{}, err
	}
	r, err := Eval(n.Right, scope)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case TokenEq:
		return Bool(Equal(l, r)), nil
	case TokenNe:
		return Bool(!Equal(l, r)), nil
	case TokenGt, TokenGe, TokenLt, TokenLe:
		c, ok := compare(l, r)
		if !ok {
			return Value{}, evalErr(TypeMismatch, n, "cannot compare %s with %s", l.Kind(), r.Kind())
		}
		switch n.Op {
		case TokenGt:
			return Bool(c > 0), nil
		case TokenGe:
			return Bool(c >= 0), nil
		case TokenLt:
			return Bool(c < 0), nil
		default:
			return Bool(c <= 0), nil
		}
	case TokenHas:
		return evalHas(n, l, r)
	}
	return arithmetic(n, l, r)
}

func evalHas(n *Binary, container, item Value) (Value, error) {
	switch container.Kind() {
	case KindList:
		items, _ := container.AsList()
		for _, v := range items {
			if Equal(v, item) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case KindString:
		return Bool(strings.Contains(strings.ToUpper(container.String()), strings.ToUpper(item.String()))), nil
	case KindRecord:
		rec, _ := container.AsRecord()
		_, ok := rec[item.String()]
		return Bool(ok), nil
	}
	return Value{}, evalErr(TypeMismatch, n, "'has' needs a list or string, got %s", container.Kind())
}

func arithmetic(n *Binary, l, r Value) (Value, error) {
	// Dates: date - date is a day count, date +/- number shifts by days.
	if l.Kind() == KindDate || r.Kind() == KindDate {
		return dateArithmetic(n, l, r)
	}

	if n.Op == TokenPlus && l.Kind() == KindString && r.Kind() == KindString {
		return Str(l.String() + r.String()), nil
	}

	x, ok1 := l.AsNumber()
	y, ok2 := r.AsNumber()
	if !ok1 || !ok2 {
		return Value{}, evalErr(TypeMismatch, n, "cannot apply %s to %s and %s", opText(n.Op), l.Kind(), r.Kind())
	}

	switch n.Op {
	case TokenPlus:
		return Num(x.Add(y)), nil
	case TokenMinus:
		return Num(x.Sub(y)), nil
	case TokenStar:
		return Num(x.Mul(y)), nil
	case TokenSlash:
		if y.IsZero() {
			return Value{}, evalErr(DivideByZero, n, "division by zero")
		}
		return Num(x.Div(y)), nil
	}
	return Value{}, evalErr(TypeMismatch, n, "unknown operator %s", opText(n.Op))
}

func dateArithmetic(n *Binary, l, r Value) (Value, error) {
	switch n.Op {
	case TokenMinus:
		if a, ok := l.AsDate(); ok {
			if b, ok := r.AsDate(); ok {
				days := a.Sub(b).Hours() / 24
				return Num(decimal.NewFromFloat(days).Round(0)), nil
			}
			if d, ok := r.AsNumber(); ok && r.Kind() == KindNumber {
				return Date(a.AddDate(0, 0, -int(d.IntPart()))), nil
			}
		}
	case TokenPlus:
		a, b := l, r
		if b.Kind() == KindDate {
			a, b = b, a
		}
		if t, ok := a.AsDate(); ok {
			if d, ok := b.AsNumber(); ok {
				return Date(t.AddDate(0, 0, int(d.IntPart()))), nil
			}
		}
	}
	return Value{}, evalErr(TypeMismatch, n, "cannot apply %s to %s and %s", opText(n.Op), l.Kind(), r.Kind())
}

func evalComprehension(n *Comprehension, scope *Scope) (Value, error) {
	src, err := Eval(n.Source, scope)
	if err != nil {
		return Value{}, err
	}
	items, ok := src.AsList()
	if !ok {
		return Value{}, evalErr(TypeMismatch, n.Source, "cannot iterate over a %s", src.Kind())
	}

	out := make([]Value, 0, len(items))
	inner := scope.Child()
	for _, item := range items {
		inner.Set(n.Var, item)
		if n.Cond != nil {
			keep, err := EvalBool(n.Cond, inner)
			if err != nil {
				return Value{}, err
			}
			if !keep {
				continue
			}
		}
		v, err := Eval(n.Elem, inner)
		if err != nil {
			return Value{}, err
		}
		out = append(out, v)
	}
	return List(out), nil
}
