package expr

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// Node is an expression tree node. Nodes are immutable after Compile and may
// be shared between goroutines.
type Node interface {
	// Pos is the 1-based character offset where the node starts.
	Pos() int
	String() string
}

// Literal is a string, number or boolean constant.
type Literal struct {
	Value Value
	P     int
}

// Ident is a bare name: a context value, a variable or a data source.
type Ident struct {
	Name string
	P    int
}

// FieldRef is field.<name>.
type FieldRef struct {
	Name string
	P    int
}

// TxnRef is txn.<name>, the current transaction even inside a comprehension.
type TxnRef struct {
	Name string
	P    int
}

// Attr is attribute access on a record, e.g. r.amount.
type Attr struct {
	X    Node
	Name string
	P    int
}

// Index is subscript access, e.g. m[0].
type Index struct {
	X     Node
	Index Node
	P     int
}

// Call is a built-in function call.
type Call struct {
	// compiled holds the pattern argument when it is a string literal.
	compiled *regexp2.Regexp
	Name     string
	Args     []Node
	P        int
}

// Binary is a logical, comparison or arithmetic operator.
type Binary struct {
	Left  Node
	Right Node
	Op    TokenType
	P     int
}

// Unary is "not" or numeric negation.
type Unary struct {
	X  Node
	Op TokenType
	P  int
}

// ListLit is a bracketed list of expressions.
type ListLit struct {
	Items []Node
	P     int
}

// Comprehension is [elem for var in source if cond]. Generator is set when it
// appeared unbracketed as a call argument.
type Comprehension struct {
	Elem      Node
	Source    Node
	Cond      Node
	Var       string
	P         int
	Generator bool
}

// MatchAll is the "*" expression, true for every transaction.
type MatchAll struct {
	P int
}

func (n *Literal) Pos() int       { return n.P }
func (n *Ident) Pos() int         { return n.P }
func (n *FieldRef) Pos() int      { return n.P }
func (n *TxnRef) Pos() int        { return n.P }
func (n *Attr) Pos() int          { return n.P }
func (n *Index) Pos() int         { return n.P }
func (n *Call) Pos() int          { return n.P }
func (n *Binary) Pos() int        { return n.P }
func (n *Unary) Pos() int         { return n.P }
func (n *ListLit) Pos() int       { return n.P }
func (n *Comprehension) Pos() int { return n.P }
func (n *MatchAll) Pos() int      { return n.P }

func (n *Literal) String() string {
	if n.Value.Kind() == KindString {
		return strconv.Quote(n.Value.String())
	}
	return n.Value.String()
}

func (n *Ident) String() string    { return n.Name }
func (n *FieldRef) String() string { return "field." + n.Name }
func (n *TxnRef) String() string   { return "txn." + n.Name }
func (n *Attr) String() string     { return n.X.String() + "." + n.Name }
func (n *Index) String() string    { return n.X.String() + "[" + n.Index.String() + "]" }
func (n *MatchAll) String() string { return "*" }

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")"
}

func (n *Binary) String() string {
	return "(" + n.Left.String() + " " + opText(n.Op) + " " + n.Right.String() + ")"
}

func (n *Unary) String() string {
	if n.Op == TokenNot {
		return "not " + n.X.String()
	}
	return "-" + n.X.String()
}

func (n *ListLit) String() string {
	items := make([]string, len(n.Items))
	for i, item := range n.Items {
		items[i] = item.String()
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func (n *Comprehension) String() string {
	var b strings.Builder
	if !n.Generator {
		b.WriteString("[")
	}
	b.WriteString(n.Elem.String())
	b.WriteString(" for ")
	b.WriteString(n.Var)
	b.WriteString(" in ")
	b.WriteString(n.Source.String())
	if n.Cond != nil {
		b.WriteString(" if ")
		b.WriteString(n.Cond.String())
	}
	if !n.Generator {
		b.WriteString("]")
	}
	return b.String()
}

func opText(op TokenType) string {
	switch op {
	case TokenAnd:
		return "and"
	case TokenOr:
		return "or"
	case TokenHas:
		return "has"
	case TokenEq:
		return "=="
	case TokenNe:
		return "!="
	case TokenGt:
		return ">"
	case TokenGe:
		return ">="
	case TokenLt:
		return "<"
	case TokenLe:
		return "<="
	case TokenPlus:
		return "+"
	case TokenMinus:
		return "-"
	case TokenStar:
		return "*"
	case TokenSlash:
		return "/"
	default:
		return op.String()
	}
}

// Walk visits n and its children depth-first. Returning false from fn skips
// the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Attr:
		Walk(n.X, fn)
	case *Index:
		Walk(n.X, fn)
		Walk(n.Index, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.X, fn)
	case *ListLit:
		for _, item := range n.Items {
			Walk(item, fn)
		}
	case *Comprehension:
		Walk(n.Elem, fn)
		Walk(n.Source, fn)
		Walk(n.Cond, fn)
	}
}
