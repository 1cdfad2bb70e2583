package sampler

import (
	"math/rand/v2"

	"relinfer/internal/world"
	"relinfer/pkg/model"
)

// Factory selects a sampler for a seed variable by trying its variants in
// priority order. The parents variant is always last.
type Factory struct {
	model    *model.Model
	rng      *rand.Rand
	variants []Variant
}

// NewFactory constructs a factory. Variants are tried in the order given,
// followed by the parents variant.
func NewFactory(m *model.Model, rng *rand.Rand, variants ...Variant) *Factory {
	list := make([]Variant, 0, len(variants)+1)
	for _, v := range variants {
		if v == nil {
			continue
		}
		if _, isParents := v.(ParentsVariant); isParents {
			continue
		}
		list = append(list, v)
	}
	list = append(list, ParentsVariant{})
	return &Factory{model: m, rng: rng, variants: list}
}

// Model returns the model the factory serves.
func (f *Factory) Model() *model.Model { return f.model }

// Rand returns the random source shared by the factory's samplers.
func (f *Factory) Rand() *rand.Rand { return f.rng }

// Variants lists variant names in priority order.
func (f *Factory) Variants() []string {
	out := make([]string, len(f.variants))
	for i, v := range f.variants {
		out[i] = v.Name()
	}
	return out
}

// Make returns the sampler of the first applicable variant, or nil when no
// variant applies.
func (f *Factory) Make(seed *model.VarWithDistrib, w world.World, excluded Exclusion) (Sampler, error) {
	return f.make(seed, w, excluded, newGuard())
}

// MakeWith builds a sampler from v alone, returning nil when v does not apply
// to seed. Samplers built this way still resolve ancestors through the
// factory's full variant list.
func (f *Factory) MakeWith(v Variant, seed *model.VarWithDistrib, w world.World, excluded Exclusion) (Sampler, error) {
	env := Env{Model: f.model, World: w, Excluded: excluded, Rng: f.rng, factory: f, guard: newGuard()}
	if !v.Applies(seed, env) {
		return nil, nil
	}
	return v.New(seed, env)
}

// SamplerFor is Make with the no-sampler case reported as a model definition
// error.
func (f *Factory) SamplerFor(seed *model.VarWithDistrib, w world.World, excluded Exclusion) (Sampler, error) {
	return f.samplerFor(seed, w, excluded, newGuard())
}

func (f *Factory) make(seed *model.VarWithDistrib, w world.World, excluded Exclusion, g *guard) (Sampler, error) {
	env := Env{Model: f.model, World: w, Excluded: excluded, Rng: f.rng, factory: f, guard: g}
	for _, v := range f.variants {
		if !v.Applies(seed, env) {
			continue
		}
		return v.New(seed, env)
	}
	return nil, nil
}

func (f *Factory) samplerFor(seed *model.VarWithDistrib, w world.World, excluded Exclusion, g *guard) (Sampler, error) {
	s, err := f.make(seed, w, excluded, g)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &model.ModelDefinitionError{Kind: model.ErrNoApplicableSampler, Var: seed.ID(), Context: g.stack()}
	}
	return s, nil
}

// newContext builds a nested context sharing the caller's cycle guard.
func (f *Factory) newContext(w world.World, excluded Exclusion, g *guard) *EvalContext {
	return &EvalContext{world: w, factory: f, excluded: excluded, guard: g}
}
