package expr

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// builtin describes a function's signature. min and max count arguments
// excluding the optional leading target; max < 0 means variadic. When target
// is set the function operates on the transaction description unless a
// target is passed first. pattern is the index of a regex argument among the
// non-target arguments, or -1.
type builtin struct {
	fn      func(c *call) (Value, error)
	min     int
	max     int
	pattern int
	target  bool
}

type call struct {
	node   *Call
	scope  *Scope
	re     *regexp2.Regexp
	target string
	args   []Value
}

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"contains":      {min: 1, max: 1, pattern: -1, target: true, fn: fnContains},
		"regex":         {min: 1, max: 1, pattern: 0, target: true, fn: fnRegex},
		"normalized":    {min: 1, max: 1, pattern: -1, target: true, fn: fnNormalized},
		"anyof":         {min: 1, max: -1, pattern: -1, target: true, fn: fnAnyOf},
		"startswith":    {min: 1, max: 1, pattern: -1, target: true, fn: fnStartsWith},
		"fuzzy":         {min: 1, max: 2, pattern: -1, target: true, fn: fnFuzzy},
		"extract":       {min: 1, max: 1, pattern: 0, target: true, fn: fnExtract},
		"split":         {min: 2, max: 2, pattern: -1, target: true, fn: fnSplit},
		"substring":     {min: 1, max: 2, pattern: -1, target: true, fn: fnSubstring},
		"trim":          {min: 0, max: 0, pattern: -1, target: true, fn: fnTrim},
		"regex_replace": {min: 2, max: 2, pattern: 0, target: true, fn: fnRegexReplace},
		"uppercase":     {min: 0, max: 0, pattern: -1, target: true, fn: fnUppercase},
		"lowercase":     {min: 0, max: 0, pattern: -1, target: true, fn: fnLowercase},
		"strip_prefix":  {min: 1, max: 1, pattern: -1, target: true, fn: fnStripPrefix},
		"strip_suffix":  {min: 1, max: 1, pattern: -1, target: true, fn: fnStripSuffix},

		"len":    {min: 1, max: 1, pattern: -1, fn: fnLen},
		"count":  {min: 1, max: 1, pattern: -1, fn: fnLen},
		"sum":    {min: 1, max: -1, pattern: -1, fn: fnSum},
		"avg":    {min: 1, max: -1, pattern: -1, fn: fnAvg},
		"min":    {min: 1, max: -1, pattern: -1, fn: fnMin},
		"max":    {min: 1, max: -1, pattern: -1, fn: fnMax},
		"stddev": {min: 1, max: -1, pattern: -1, fn: fnStddev},
		"any":    {min: 1, max: 1, pattern: -1, fn: fnAny},
		"next":   {min: 1, max: 2, pattern: -1, fn: fnNext},
		"abs":    {min: 1, max: 1, pattern: -1, fn: fnAbs},
		"str":    {min: 1, max: 1, pattern: -1, fn: fnStr},
		"num":    {min: 1, max: 1, pattern: -1, fn: fnNum},
	}
}

// IsBuiltin reports whether name is a built-in function.
func IsBuiltin(name string) bool {
	_, ok := builtins[strings.ToLower(name)]
	return ok || strings.EqualFold(name, "exists")
}

func isReference(n Node) bool {
	switch n.(type) {
	case *FieldRef, *TxnRef, *Attr:
		return true
	}
	return false
}

// splitTarget separates an explicit leading target from the remaining
// arguments. One argument beyond the maximum is always a target; otherwise a
// leading field, txn or row reference is a target when the count allows it.
func splitTarget(b builtin, args []Node) (Node, []Node) {
	if !b.target || len(args) == 0 {
		return nil, args
	}
	if b.max >= 0 && len(args) == b.max+1 {
		return args[0], args[1:]
	}
	if len(args) > b.min && isReference(args[0]) {
		return args[0], args[1:]
	}
	return nil, args
}

// Compile validates calls and pre-compiles literal regex arguments. It must
// run before a tree is shared between goroutines. extra names functions
// supplied by the evaluation environment.
func Compile(root Node, extra ...string) error {
	var firstErr error
	Walk(root, func(n Node) bool {
		if firstErr != nil {
			return false
		}
		c, ok := n.(*Call)
		if !ok {
			return true
		}
		if c.Name == "exists" {
			if len(c.Args) != 1 {
				firstErr = &SyntaxError{Pos: c.P, Text: c.Name, Msg: "exists() takes exactly one argument"}
			}
			return true
		}

		b, ok := builtins[c.Name]
		if !ok {
			for _, name := range extra {
				if strings.EqualFold(name, c.Name) {
					return true
				}
			}
			firstErr = &SyntaxError{Pos: c.P, Text: c.Name, Msg: "unknown function"}
			return false
		}

		_, rest := splitTarget(b, c.Args)
		if len(rest) < b.min || (b.max >= 0 && len(rest) > b.max) {
			firstErr = &SyntaxError{Pos: c.P, Text: c.Name, Msg: arityMessage(c.Name, b)}
			return false
		}

		if b.pattern >= 0 {
			if lit, ok := rest[b.pattern].(*Literal); ok && lit.Value.Kind() == KindString {
				re, err := CompileRegex(lit.Value.String())
				if err != nil {
					firstErr = &EvalError{Kind: InvalidRegex, Msg: "invalid pattern " + lit.String(), Expr: c.String(), Pos: c.P, Err: err}
					return false
				}
				c.compiled = re
			}
		}
		return true
	})
	return firstErr
}

func arityMessage(name string, b builtin) string {
	switch {
	case b.max < 0:
		return fmt.Sprintf("%s() takes at least %d argument(s)", name, b.min)
	case b.min == b.max:
		return fmt.Sprintf("%s() takes %d argument(s)", name, b.min)
	default:
		return fmt.Sprintf("%s() takes %d to %d arguments", name, b.min, b.max)
	}
}

func evalCall(n *Call, scope *Scope) (Value, error) {
	if n.Name == "exists" {
		return evalExists(n, scope)
	}

	if fe, ok := scope.env.(FuncEnv); ok {
		if fn, ok := fe.Func(n.Name); ok {
			args, err := evalArgs(n.Args, scope)
			if err != nil {
				return Value{}, err
			}
			return fn(args)
		}
	}

	b, ok := builtins[n.Name]
	if !ok {
		return Value{}, evalErr(TypeMismatch, n, "unknown function %q", n.Name)
	}

	targetNode, rest := splitTarget(b, n.Args)
	if len(rest) < b.min || (b.max >= 0 && len(rest) > b.max) {
		return Value{}, evalErr(TypeMismatch, n, "%s", arityMessage(n.Name, b))
	}

	c := &call{node: n, scope: scope}
	if b.target {
		if targetNode != nil {
			v, err := Eval(targetNode, scope)
			if err != nil {
				return Value{}, err
			}
			c.target = v.String()
		} else if v, ok := scope.env.Lookup("description"); ok {
			c.target = v.String()
		}
	}

	args, err := evalArgs(rest, scope)
	if err != nil {
		return Value{}, err
	}
	c.args = args

	if b.pattern >= 0 {
		c.re = n.compiled
		if c.re == nil {
			re, err := CompileRegex(args[b.pattern].String())
			if err != nil {
				return Value{}, &EvalError{Kind: InvalidRegex, Msg: "invalid pattern", Expr: n.String(), Pos: n.P, Err: err}
			}
			c.re = re
		}
	}

	return b.fn(c)
}

func evalArgs(nodes []Node, scope *Scope) ([]Value, error) {
	args := make([]Value, len(nodes))
	for i, a := range nodes {
		v, err := Eval(a, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// evalExists is true when its argument resolves to a non-blank value. An
// undefined field is false rather than an error.
func evalExists(n *Call, scope *Scope) (Value, error) {
	v, err := Eval(n.Args[0], scope)
	if err != nil {
		if IsUndefined(err) {
			return Bool(false), nil
		}
		return Value{}, err
	}
	if v.Kind() == KindString {
		return Bool(strings.TrimSpace(v.String()) != ""), nil
	}
	return Bool(v.Kind() != KindNone), nil
}

func (c *call) intArg(i int) (int, error) {
	d, ok := c.args[i].AsNumber()
	if !ok || !d.IsInteger() {
		return 0, evalErr(TypeMismatch, c.node, "argument %d of %s() must be an integer", i+1, c.node.Name)
	}
	return int(d.IntPart()), nil
}

func fnContains(c *call) (Value, error) {
	return Bool(strings.Contains(strings.ToUpper(c.target), strings.ToUpper(c.args[0].String()))), nil
}

func fnRegex(c *call) (Value, error) {
	ok, err := regexMatch(c.re, c.target)
	if err != nil {
		return Value{}, &EvalError{Kind: InvalidRegex, Msg: "match failed", Expr: c.node.String(), Pos: c.node.P, Err: err}
	}
	return Bool(ok), nil
}

// squash case-folds s and removes everything that is not a letter or digit.
func squash(s string) string {
	folded := cases.Fold().String(s)
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func fnNormalized(c *call) (Value, error) {
	needle := squash(c.args[0].String())
	if needle == "" {
		return Bool(false), nil
	}
	return Bool(strings.Contains(squash(c.target), needle)), nil
}

func fnAnyOf(c *call) (Value, error) {
	hay := strings.ToUpper(c.target)
	for _, a := range c.args {
		if strings.Contains(hay, strings.ToUpper(a.String())) {
			return Bool(true), nil
		}
	}
	return Bool(false), nil
}

func fnStartsWith(c *call) (Value, error) {
	return Bool(strings.HasPrefix(strings.ToUpper(c.target), strings.ToUpper(c.args[0].String()))), nil
}

func fnFuzzy(c *call) (Value, error) {
	threshold := DefaultFuzzyThreshold
	if len(c.args) == 2 {
		d, ok := c.args[1].AsNumber()
		if !ok {
			return Value{}, evalErr(TypeMismatch, c.node, "fuzzy() threshold must be a number")
		}
		threshold = d
	}
	t, _ := threshold.Float64()
	return Bool(fuzzyMatch(c.target, c.args[0].String(), t)), nil
}

func fnExtract(c *call) (Value, error) {
	s, err := regexExtract(c.re, c.target)
	if err != nil {
		return Value{}, &EvalError{Kind: InvalidRegex, Msg: "match failed", Expr: c.node.String(), Pos: c.node.P, Err: err}
	}
	return Str(s), nil
}

// fnSplit returns "" for negative or out of range indexes.
func fnSplit(c *call) (Value, error) {
	sep := c.args[0].String()
	idx, err := c.intArg(1)
	if err != nil {
		return Value{}, err
	}
	if sep == "" {
		return Value{}, evalErr(TypeMismatch, c.node, "split() separator must not be empty")
	}
	parts := strings.Split(c.target, sep)
	if idx < 0 || idx >= len(parts) {
		return Str(""), nil
	}
	return Str(parts[idx]), nil
}

// fnSubstring slices runes with negative indexes counting from the end and
// out of range bounds clamped.
func fnSubstring(c *call) (Value, error) {
	runes := []rune(c.target)
	n := len(runes)

	start, err := c.intArg(0)
	if err != nil {
		return Value{}, err
	}
	end := n
	if len(c.args) == 2 {
		if end, err = c.intArg(1); err != nil {
			return Value{}, err
		}
	}

	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		return max(0, min(i, n))
	}
	start, end = clamp(start), clamp(end)
	if start >= end {
		return Str(""), nil
	}
	return Str(string(runes[start:end])), nil
}

func fnTrim(c *call) (Value, error) {
	return Str(strings.TrimSpace(c.target)), nil
}

func fnRegexReplace(c *call) (Value, error) {
	s, err := regexReplaceAll(c.re, c.target, c.args[1].String())
	if err != nil {
		return Value{}, &EvalError{Kind: InvalidRegex, Msg: "replace failed", Expr: c.node.String(), Pos: c.node.P, Err: err}
	}
	return Str(s), nil
}

func fnUppercase(c *call) (Value, error) {
	return Str(strings.ToUpper(c.target)), nil
}

func fnLowercase(c *call) (Value, error) {
	return Str(strings.ToLower(c.target)), nil
}

func fnStripPrefix(c *call) (Value, error) {
	prefix := c.args[0].String()
	if len(prefix) <= len(c.target) && strings.EqualFold(c.target[:len(prefix)], prefix) {
		return Str(c.target[len(prefix):]), nil
	}
	return Str(c.target), nil
}

func fnStripSuffix(c *call) (Value, error) {
	suffix := c.args[0].String()
	cut := len(c.target) - len(suffix)
	if cut >= 0 && strings.EqualFold(c.target[cut:], suffix) {
		return Str(c.target[:cut]), nil
	}
	return Str(c.target), nil
}

// items returns the values an aggregate works over: the elements of a single
// list argument, or the arguments themselves.
func (c *call) items() []Value {
	if len(c.args) == 1 {
		if list, ok := c.args[0].AsList(); ok {
			return list
		}
	}
	return c.args
}

func (c *call) numbers() ([]decimal.Decimal, error) {
	items := c.items()
	out := make([]decimal.Decimal, len(items))
	for i, v := range items {
		d, ok := v.AsNumber()
		if !ok {
			return nil, evalErr(TypeMismatch, c.node, "%s() needs numbers, got %s %q", c.node.Name, v.Kind(), v.String())
		}
		out[i] = d
	}
	return out, nil
}

func fnLen(c *call) (Value, error) {
	v := c.args[0]
	switch v.Kind() {
	case KindList:
		items, _ := v.AsList()
		return Int(len(items)), nil
	case KindString:
		return Int(len([]rune(v.String()))), nil
	case KindRecord:
		rec, _ := v.AsRecord()
		return Int(len(rec)), nil
	}
	return Value{}, evalErr(TypeMismatch, c.node, "%s() of a %s", c.node.Name, v.Kind())
}

func fnSum(c *call) (Value, error) {
	nums, err := c.numbers()
	if err != nil {
		return Value{}, err
	}
	total := decimal.Zero
	for _, d := range nums {
		total = total.Add(d)
	}
	return Num(total), nil
}

func fnAvg(c *call) (Value, error) {
	nums, err := c.numbers()
	if err != nil || len(nums) == 0 {
		return Num(decimal.Zero), err
	}
	return Num(decimal.Avg(nums[0], nums[1:]...)), nil
}

func fnMin(c *call) (Value, error) {
	nums, err := c.numbers()
	if err != nil || len(nums) == 0 {
		return Num(decimal.Zero), err
	}
	return Num(decimal.Min(nums[0], nums[1:]...)), nil
}

func fnMax(c *call) (Value, error) {
	nums, err := c.numbers()
	if err != nil || len(nums) == 0 {
		return Num(decimal.Zero), err
	}
	return Num(decimal.Max(nums[0], nums[1:]...)), nil
}

// fnStddev is the population standard deviation.
func fnStddev(c *call) (Value, error) {
	nums, err := c.numbers()
	if err != nil || len(nums) == 0 {
		return Num(decimal.Zero), err
	}
	return Num(decimal.NewFromFloat(StdDev(nums))), nil
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []decimal.Decimal) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean, _ := decimal.Avg(xs[0], xs[1:]...).Float64()
	var sq float64
	for _, d := range xs {
		f, _ := d.Float64()
		sq += (f - mean) * (f - mean)
	}
	return math.Sqrt(sq / float64(len(xs)))
}

func fnAny(c *call) (Value, error) {
	for _, v := range c.items() {
		if v.Truthy() {
			return Bool(true), nil
		}
	}
	return Bool(false), nil
}

func fnNext(c *call) (Value, error) {
	list, ok := c.args[0].AsList()
	if !ok {
		return Value{}, evalErr(TypeMismatch, c.node, "next() needs a list or generator")
	}
	if len(list) > 0 {
		return list[0], nil
	}
	if len(c.args) == 2 {
		return c.args[1], nil
	}
	return Value{}, evalErr(OutOfRange, c.node, "next() on an empty sequence without a default")
}

func fnAbs(c *call) (Value, error) {
	d, ok := c.args[0].AsNumber()
	if !ok {
		return Value{}, evalErr(TypeMismatch, c.node, "abs() needs a number, got %s", c.args[0].Kind())
	}
	return Num(d.Abs()), nil
}

func fnStr(c *call) (Value, error) {
	return Str(c.args[0].String()), nil
}

func fnNum(c *call) (Value, error) {
	d, ok := c.args[0].AsNumber()
	if !ok {
		return Value{}, evalErr(TypeMismatch, c.node, "cannot convert %q to a number", c.args[0].String())
	}
	return Num(d), nil
}
