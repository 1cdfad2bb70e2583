package model

import (
	"fmt"
	"sort"
	"sync"
)

// Context resolves the values of other random variables while a CPD is
// evaluated. Every term a CPD asks for is one of the variable's parents.
// Implementations may instantiate missing parents on demand.
type Context interface {
	Value(t Term) (Value, error)
}

// CPD evaluates the conditional distribution of a random function applied to
// args. It must be deterministic once every value it reads from ctx is fixed.
type CPD func(ctx Context, args []Value) (Distribution, error)

// RandomFunction declares a family of random variables sharing one CPD.
type RandomFunction struct {
	Name  string
	Arity int
	CPD   CPD
}

// VarWithDistrib is a random variable: a term bound to its random function.
type VarWithDistrib struct {
	term Term
	id   VarID
	fn   *RandomFunction
}

// ID returns the variable identity.
func (v *VarWithDistrib) ID() VarID { return v.id }

// Term returns the functional term naming the variable.
func (v *VarWithDistrib) Term() Term { return v.term }

// Function returns the random function name.
func (v *VarWithDistrib) Function() string { return v.fn.Name }

// String implements fmt.Stringer.
func (v *VarWithDistrib) String() string { return string(v.id) }

// Distrib evaluates the variable's CPD against ctx. Parent resolution (and
// any instantiation it triggers) is the context's responsibility.
func (v *VarWithDistrib) Distrib(ctx Context) (Distribution, error) {
	d, err := v.fn.CPD(ctx, v.term.Args)
	if err != nil {
		return nil, attachVar(err, v.id)
	}
	if d == nil {
		return nil, &ModelDefinitionError{Kind: ErrInvalidParameter, Var: v.id, Detail: "CPD returned no distribution"}
	}
	return d, nil
}

// Model owns the random functions of a model and the interning table that
// maps variable identities to their VarWithDistrib.
type Model struct {
	mu        sync.Mutex
	functions map[string]*RandomFunction
	vars      map[VarID]*VarWithDistrib
}

// NewModel constructs an empty model.
func NewModel() *Model {
	return &Model{
		functions: make(map[string]*RandomFunction),
		vars:      make(map[VarID]*VarWithDistrib),
	}
}

// AddFunction registers a random function.
func (m *Model) AddFunction(fn RandomFunction) error {
	if fn.Name == "" {
		return fmt.Errorf("random function name required")
	}
	if fn.CPD == nil {
		return fmt.Errorf("random function %s has no CPD", fn.Name)
	}
	if fn.Arity < 0 {
		return fmt.Errorf("random function %s has negative arity", fn.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.functions[fn.Name]; exists {
		return fmt.Errorf("random function %s already registered", fn.Name)
	}
	cp := fn
	m.functions[fn.Name] = &cp
	return nil
}

// MustAddFunction is AddFunction for static model construction.
func (m *Model) MustAddFunction(fn RandomFunction) {
	if err := m.AddFunction(fn); err != nil {
		panic(err)
	}
}

// Function looks up a random function by name.
func (m *Model) Function(name string) (*RandomFunction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := m.functions[name]
	return fn, ok
}

// Functions returns the registered function names in sorted order.
func (m *Model) Functions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.functions))
	for name := range m.functions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Var returns the interned random variable for t.
func (m *Model) Var(t Term) (*VarWithDistrib, error) {
	id := t.ID()
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vars[id]; ok {
		return v, nil
	}
	fn, ok := m.functions[t.Func]
	if !ok {
		return nil, &ModelDefinitionError{Kind: ErrUnknownFunction, Var: id}
	}
	if len(t.Args) != fn.Arity {
		return nil, &ModelDefinitionError{Kind: ErrUnknownFunction, Var: id,
			Detail: fmt.Sprintf("%s expects %d arguments, got %d", fn.Name, fn.Arity, len(t.Args))}
	}
	v := &VarWithDistrib{
		term: Term{Func: t.Func, Args: append([]Value(nil), t.Args...)},
		id:   id,
		fn:   fn,
	}
	m.vars[id] = v
	return v, nil
}
