package sampler

import (
	"fmt"

	"relinfer/internal/world"
	"relinfer/pkg/model"
)

// ParentsVariant samples a seed from its own conditional distribution given
// its parents, instantiating missing ancestors first. It applies to every
// variable that is not excluded.
type ParentsVariant struct{}

// Name implements Variant.
func (ParentsVariant) Name() string { return "parents" }

// Applies implements Variant.
func (ParentsVariant) Applies(seed *model.VarWithDistrib, env Env) bool {
	return !isExcluded(env.Excluded, seed.ID())
}

// New implements Variant.
func (ParentsVariant) New(seed *model.VarWithDistrib, env Env) (Sampler, error) {
	return &parentsSampler{seed: seed, env: env, block: []model.VarID{seed.ID()}}, nil
}

// parentsSampler uses the prior as its proposal. For the seed, p/q is
// exactly 1, so a block's log weight is only what the nested ancestor
// samplers contributed. This is a property of this variant, not of samplers
// in general.
type parentsSampler struct {
	seed   *model.VarWithDistrib
	env    Env
	block  []model.VarID
	nested []Sampler
}

func (s *parentsSampler) Seed() *model.VarWithDistrib { return s.seed }

func (s *parentsSampler) Block() []model.VarID { return append([]model.VarID(nil), s.block...) }

func (s *parentsSampler) Sample() (Result, error) {
	ctx := s.env.Context()
	d, err := s.seed.Distrib(ctx)
	if err != nil {
		return Result{}, err
	}
	w := ctx.World()
	w.Set(s.seed, d.Sample(s.env.Rng))

	s.env.World = w
	s.nested = ctx.samplers
	s.block = append(ctx.Instantiated(), s.seed.ID())
	return Result{World: w, LogWeight: ctx.LogWeight()}, nil
}

func (s *parentsSampler) Measure() (Result, error) {
	total := 0.0
	for _, n := range s.nested {
		r, err := n.Measure()
		if err != nil {
			return Result{}, err
		}
		total += r.LogWeight
	}
	if err := requireSupported(s.env.World, s.seed); err != nil {
		return Result{}, err
	}
	return Result{World: s.env.World, LogWeight: total}, nil
}

func (s *parentsSampler) Unsample() (Result, error) {
	return unsampleBlock(s)
}

// requireSupported checks that v is instantiated and its distribution can be
// evaluated from instantiated parents alone.
func requireSupported(w world.World, v *model.VarWithDistrib) error {
	if _, ok := w.Value(v.ID()); !ok {
		return &model.ModelDefinitionError{Kind: model.ErrNotSelfSupporting, Var: v.ID(),
			Detail: "block variable is not instantiated"}
	}
	if _, err := v.Distrib(world.NewReadContext(w)); err != nil {
		return fmt.Errorf("measure %s: %w", v.ID(), err)
	}
	return nil
}

// unsampleBlock measures s, then unsets its block in instantiation order.
func unsampleBlock(s Sampler) (Result, error) {
	r, err := s.Measure()
	if err != nil {
		return Result{}, err
	}
	for _, id := range s.Block() {
		r.World.Unset(id)
	}
	return Result{World: r.World, LogWeight: -r.LogWeight}, nil
}
