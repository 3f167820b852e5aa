package expr

// Env supplies the transaction context an expression is evaluated against.
type Env interface {
	// Lookup resolves bare context names such as amount, date or source.
	Lookup(name string) (Value, bool)
	// Field resolves field.<name>.
	Field(name string) (Value, bool)
	// Rows resolves a named data source to its rows.
	Rows(source string) ([]Value, bool)
}

// FuncEnv is implemented by environments that provide extra functions, such
// as by() for view filters. Env functions take precedence over built-ins.
type FuncEnv interface {
	Env
	Func(name string) (Func, bool)
}

// Func is a function callable from expressions. Arguments are already
// evaluated.
type Func func(args []Value) (Value, error)

// Scope layers variable bindings over an Env. A Scope is not safe for
// concurrent use; create one per evaluation.
type Scope struct {
	env    Env
	parent *Scope
	vars   map[string]Value
	lazy   map[string]*lazyBinding
}

type lazyBinding struct {
	node  Node
	err   error
	value Value
	state int // 0 pending, 1 evaluating, 2 done
}

// NewScope returns a root scope over env.
func NewScope(env Env) *Scope {
	return &Scope{env: env}
}

// Child returns a scope whose bindings shadow s.
func (s *Scope) Child() *Scope {
	return &Scope{env: s.env, parent: s}
}

// Env returns the underlying environment.
func (s *Scope) Env() Env {
	return s.env
}

// Set binds name to v in this scope.
func (s *Scope) Set(name string, v Value) {
	if s.vars == nil {
		s.vars = make(map[string]Value)
	}
	s.vars[name] = v
}

// Bind registers node to be evaluated the first time name is referenced.
// The result, or error, is memoized for the lifetime of the scope.
func (s *Scope) Bind(name string, node Node) {
	if s.lazy == nil {
		s.lazy = make(map[string]*lazyBinding)
	}
	s.lazy[name] = &lazyBinding{node: node}
}

// Get resolves a variable through the scope chain.
func (s *Scope) Get(name string) (Value, bool, error) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true, nil
		}
		if lb, ok := sc.lazy[name]; ok {
			v, err := sc.force(name, lb)
			return v, true, err
		}
	}
	return Value{}, false, nil
}

func (s *Scope) force(name string, lb *lazyBinding) (Value, error) {
	switch lb.state {
	case 2:
		return lb.value, lb.err
	case 1:
		return Value{}, evalErr(TypeMismatch, lb.node, "variable %q refers to itself", name)
	}
	lb.state = 1
	// Lazy bindings see only the scope they were declared in.
	lb.value, lb.err = Eval(lb.node, s)
	lb.state = 2
	return lb.value, lb.err
}
