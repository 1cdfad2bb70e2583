// Package sampler implements block samplers and the factory that selects one
// per seed variable. Weights are carried as log importance ratios p/q.
package sampler

import (
	"math"
	"math/rand/v2"

	"relinfer/internal/world"
	"relinfer/pkg/model"
)

// Result is the outcome of a sampler call: the world the block now lives in
// and the log importance ratio accumulated over the block.
type Result struct {
	World     world.World
	LogWeight float64
}

// Weight returns the importance ratio in linear space.
func (r Result) Weight() float64 { return math.Exp(r.LogWeight) }

// Sampler samples, measures or removes the block anchored at one seed
// variable. An instance is bound to one world and keeps its block across its
// own calls only.
type Sampler interface {
	Seed() *model.VarWithDistrib
	// Block lists the variables the sampler owns, in instantiation order.
	Block() []model.VarID
	// Sample draws the block and returns the log ratio p/q over it.
	Sample() (Result, error)
	// Measure computes the Sample ratio for the values already in the world.
	Measure() (Result, error)
	// Unsample measures the block, then unsets it. Its LogWeight is the
	// negated Measure, log q/p of the current values; a proposal adds it to
	// the LogWeight of the Sample that follows.
	Unsample() (Result, error)
}

// Exclusion names variables that must never be sampled (typically evidence).
// *model.Evidence satisfies it.
type Exclusion interface {
	Contains(id model.VarID) bool
}

// IDSet is a literal exclusion set.
type IDSet map[model.VarID]struct{}

// Contains implements Exclusion.
func (s IDSet) Contains(id model.VarID) bool {
	_, ok := s[id]
	return ok
}

func isExcluded(e Exclusion, id model.VarID) bool {
	return e != nil && e.Contains(id)
}

// Env is what a Variant sees when deciding and constructing a sampler.
type Env struct {
	Model    *model.Model
	World    world.World
	Excluded Exclusion
	Rng      *rand.Rand

	factory *Factory
	guard   *guard
}

// Context returns an evaluation context over the env's world. Missing
// variables read through it are instantiated with the factory's variants,
// and re-entering a variable already being instantiated reports
// model.ErrCyclicDependency. It returns nil for an Env the factory did not
// build.
func (e Env) Context() *EvalContext {
	if e.factory == nil {
		return nil
	}
	return e.factory.newContext(e.World, e.Excluded, e.guard)
}

// Variant is one strategy in the factory's priority list.
type Variant interface {
	Name() string
	Applies(seed *model.VarWithDistrib, env Env) bool
	New(seed *model.VarWithDistrib, env Env) (Sampler, error)
}
