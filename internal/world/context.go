package world

import (
	"fmt"
	"math"

	"relinfer/pkg/model"
)

// ReadContext resolves parents strictly from a world. A missing parent means
// the world is not self-supporting, which is reported as a model definition
// error. Overrides let callers evaluate a CPD at a hypothetical parent value
// without writing to the world.
type ReadContext struct {
	w         World
	overrides map[model.VarID]model.Value
	accessed  []model.VarID
	seen      map[model.VarID]struct{}
}

var _ model.Context = (*ReadContext)(nil)

// NewReadContext returns a read-only context over w.
func NewReadContext(w World) *ReadContext {
	return &ReadContext{w: w, seen: make(map[model.VarID]struct{})}
}

// With overrides the value reported for id.
func (c *ReadContext) With(id model.VarID, val model.Value) *ReadContext {
	if c.overrides == nil {
		c.overrides = make(map[model.VarID]model.Value)
	}
	c.overrides[id] = val
	return c
}

// Value implements model.Context.
func (c *ReadContext) Value(t model.Term) (model.Value, error) {
	id := t.ID()
	if _, ok := c.seen[id]; !ok {
		c.seen[id] = struct{}{}
		c.accessed = append(c.accessed, id)
	}
	if v, ok := c.overrides[id]; ok {
		return v, nil
	}
	if v, ok := c.w.Value(id); ok {
		return v, nil
	}
	return nil, &model.ModelDefinitionError{Kind: model.ErrNotSelfSupporting, Var: id,
		Detail: "parent is not instantiated"}
}

// Accessed lists the parents read so far, in first-access order.
func (c *ReadContext) Accessed() []model.VarID {
	return append([]model.VarID(nil), c.accessed...)
}

// LogProbOfValue returns the log probability of id's current value under its
// CPD evaluated on w. The world must be self-supporting for id.
func LogProbOfValue(w World, id model.VarID) (float64, error) {
	v, ok := w.Var(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotInstantiated, id)
	}
	val, _ := w.Value(id)
	d, err := v.Distrib(NewReadContext(w))
	if err != nil {
		return 0, err
	}
	return d.LogProb(val), nil
}

// ProbOfValue is LogProbOfValue in linear space.
func ProbOfValue(w World, id model.VarID) (float64, error) {
	lp, err := LogProbOfValue(w, id)
	if err != nil {
		return 0, err
	}
	return math.Exp(lp), nil
}

// LogProb is the joint log probability of every instantiated variable.
func LogProb(w World) (float64, error) {
	total := 0.0
	for _, id := range w.Instantiated() {
		lp, err := LogProbOfValue(w, id)
		if err != nil {
			return 0, err
		}
		total += lp
		if math.IsInf(total, -1) {
			break
		}
	}
	return total, nil
}

// SelfSupporting reports whether every instantiated variable's parents are
// instantiated, returning the first violation found.
func SelfSupporting(w World) error {
	for _, id := range w.Instantiated() {
		v, _ := w.Var(id)
		if _, err := v.Distrib(NewReadContext(w)); err != nil {
			return err
		}
	}
	return nil
}
