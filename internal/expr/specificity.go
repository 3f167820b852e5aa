package expr

// Specificity counts the conjuncts of the top-level AND chain. Each conjunct
// counts as the number of leaf predicates it contributes: a call or a
// comparison is one, "not" is transparent, and a parenthesized OR counts as
// one. "*" counts zero.
//
//	contains("UBER")                          -> 1
//	contains("UBER") and contains("EATS")     -> 2
//	contains("A") and (amount > 5 or day == 1) -> 2
func Specificity(n Node) int {
	switch n := n.(type) {
	case nil, *MatchAll:
		return 0
	case *Binary:
		if n.Op == TokenAnd {
			return Specificity(n.Left) + Specificity(n.Right)
		}
		return 1
	case *Unary:
		if n.Op == TokenNot {
			return Specificity(n.X)
		}
		return 1
	default:
		return 1
	}
}

// Conjuncts flattens the top-level AND chain into its operands.
func Conjuncts(n Node) []Node {
	if b, ok := n.(*Binary); ok && b.Op == TokenAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Node{n}
}
