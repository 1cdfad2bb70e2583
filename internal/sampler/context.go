package sampler

import (
	"math"

	"relinfer/internal/world"
	"relinfer/pkg/model"
)

// guard tracks the variables currently being instantiated. Nested contexts
// created while sampling share one guard so re-entry is caught at any depth.
type guard struct {
	active map[model.VarID]struct{}
	order  []model.VarID
}

func newGuard() *guard {
	return &guard{active: make(map[model.VarID]struct{})}
}

func (g *guard) enter(id model.VarID) error {
	if _, busy := g.active[id]; busy {
		return &model.ModelDefinitionError{
			Kind:    model.ErrCyclicDependency,
			Var:     id,
			Context: append(g.stack(), id),
		}
	}
	g.active[id] = struct{}{}
	g.order = append(g.order, id)
	return nil
}

func (g *guard) leave(id model.VarID) {
	delete(g.active, id)
	for i := len(g.order) - 1; i >= 0; i-- {
		if g.order[i] == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

func (g *guard) stack() []model.VarID {
	return append([]model.VarID(nil), g.order...)
}

// EvalContext resolves variable values against a world, instantiating
// missing ancestors through the factory. It lives for one evaluation pass and
// accumulates the log importance weight of everything it instantiated.
type EvalContext struct {
	world    world.World
	factory  *Factory
	excluded Exclusion
	guard    *guard

	logWeight    float64
	instantiated []model.VarID
	samplers     []Sampler
}

var _ model.Context = (*EvalContext)(nil)

// NewEvalContext starts an evaluation pass over w. Variables in excluded are
// never sampled; reading one that is missing is an error.
func NewEvalContext(w world.World, f *Factory, excluded Exclusion) *EvalContext {
	return f.newContext(w, excluded, newGuard())
}

// Value implements model.Context. Missing variables are instantiated.
func (c *EvalContext) Value(t model.Term) (model.Value, error) {
	v, err := c.factory.model.Var(t)
	if err != nil {
		return nil, err
	}
	if val, ok := c.world.Value(v.ID()); ok {
		return val, nil
	}
	return c.Instantiate(v)
}

// Instantiate samples v (and whatever it needs) into the context's world and
// returns the value it received. v stays on the cycle guard until its
// sampler returns.
func (c *EvalContext) Instantiate(v *model.VarWithDistrib) (model.Value, error) {
	if err := c.guard.enter(v.ID()); err != nil {
		return nil, err
	}
	defer c.guard.leave(v.ID())

	s, err := c.factory.samplerFor(v, c.world, c.excluded, c.guard)
	if err != nil {
		return nil, err
	}
	res, err := s.Sample()
	if err != nil {
		return nil, err
	}
	c.world = res.World
	c.logWeight += res.LogWeight
	c.instantiated = append(c.instantiated, s.Block()...)
	c.samplers = append(c.samplers, s)
	val, ok := c.world.Value(v.ID())
	if !ok {
		return nil, &model.ModelDefinitionError{Kind: model.ErrNotSelfSupporting, Var: v.ID(),
			Detail: "sampler did not instantiate its seed"}
	}
	return val, nil
}

// World returns the world the context currently reads from.
func (c *EvalContext) World() world.World { return c.world }

// LogWeight returns the accumulated log importance ratio.
func (c *EvalContext) LogWeight() float64 { return c.logWeight }

// Weight returns the accumulated importance ratio.
func (c *EvalContext) Weight() float64 { return math.Exp(c.logWeight) }

// Instantiated lists the variables instantiated through the context, in
// order.
func (c *EvalContext) Instantiated() []model.VarID {
	return append([]model.VarID(nil), c.instantiated...)
}
