package mcmc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"relinfer/internal/world"
	"relinfer/pkg/model"
	"relinfer/pkg/runs"
)

// Sink receives query values of recorded chain states.
type Sink interface {
	Add(query model.VarID, v model.Value, logWeight float64)
}

// ChainConfig controls which states a chain records.
type ChainConfig struct {
	BurnIn int
	Thin   int
}

// Chain drives a Kernel: it completes each proposal's factor with the model
// likelihood ratio of the variables the proposal did not touch, then saves
// or reverts the diff.
type Chain struct {
	kernel  Kernel
	rng     *rand.Rand
	logger  *slog.Logger
	cfg     ChainConfig
	diff    *world.Diff
	queries []model.Term
	stats   runs.Stats
}

// NewChain builds a chain over k. A nil logger uses slog.Default().
func NewChain(k Kernel, rng *rand.Rand, cfg ChainConfig, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Thin < 1 {
		cfg.Thin = 1
	}
	if cfg.BurnIn < 0 {
		cfg.BurnIn = 0
	}
	return &Chain{kernel: k, rng: rng, logger: logger, cfg: cfg}
}

// Initialize builds the chain's starting world.
func (c *Chain) Initialize(evidence *model.Evidence, queries []model.Term) error {
	diff, err := c.kernel.Initialize(evidence, queries)
	if err != nil {
		return err
	}
	c.diff = diff
	c.queries = append([]model.Term(nil), queries...)
	c.stats = runs.Stats{}
	return nil
}

// World returns the committed world.
func (c *Chain) World() *world.PartialWorld {
	if c.diff == nil {
		return nil
	}
	return c.diff.Base()
}

// Stats returns the step counters.
func (c *Chain) Stats() runs.Stats { return c.stats }

// Step performs one proposal and its accept/reject decision. Errors are
// fatal; the diff is reverted before returning one.
func (c *Chain) Step() (bool, error) {
	if c.diff == nil {
		return false, fmt.Errorf("chain not initialized")
	}
	factor, err := c.kernel.ProposeNextState(c.diff)
	if err != nil {
		c.diff.Revert()
		return false, err
	}
	c.stats.Steps++
	accept := c.kernel.AlwaysAccepts()
	if !accept {
		ratio, err := LikelihoodRatio(c.diff)
		if err != nil {
			c.diff.Revert()
			return false, err
		}
		logAlpha := factor + ratio
		accept = logAlpha >= 0 || math.Log(c.rng.Float64()) < logAlpha
	}
	if accept {
		c.diff.Save()
		c.stats.Accepted++
	} else {
		c.diff.Revert()
		c.stats.Rejected++
	}
	return accept, nil
}

// Run performs steps proposals, recording query values into sink after
// burn-in at the configured thinning interval. ctx is checked between steps.
func (c *Chain) Run(ctx context.Context, steps int, sink Sink) error {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Step(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if i < c.cfg.BurnIn || (i-c.cfg.BurnIn)%c.cfg.Thin != 0 || sink == nil {
			continue
		}
		if err := c.record(sink); err != nil {
			return err
		}
	}
	c.logger.Info("chain finished", "steps", c.stats.Steps, "accepted", c.stats.Accepted,
		"acceptance_rate", c.stats.AcceptanceRate())
	return nil
}

func (c *Chain) record(sink Sink) error {
	for _, q := range c.queries {
		id := q.ID()
		v, ok := c.diff.Value(id)
		if !ok {
			return &model.ModelDefinitionError{Kind: model.ErrNotSelfSupporting, Var: id, Detail: "query not instantiated"}
		}
		sink.Add(id, v, 0)
	}
	return nil
}

// Snapshot encodes the committed world for checkpointing.
func (c *Chain) Snapshot() (world.Snapshot, error) {
	if c.diff == nil {
		return world.Snapshot{}, fmt.Errorf("chain not initialized")
	}
	return c.diff.Base().Snapshot()
}

// Restore replaces the committed world with a checkpoint. The chain must be
// initialized so it knows its queries.
func (c *Chain) Restore(m *model.Model, s world.Snapshot) error {
	w, err := world.FromSnapshot(m, s)
	if err != nil {
		return err
	}
	if err := world.SelfSupporting(w); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	w.TrackDependencies()
	c.diff = world.NewDiff(w)
	return nil
}

// LikelihoodRatio returns the log probability change, between diff's base and
// diff's view, of the base variables the diff did not touch. Only variables
// that read a touched one can change, see world.Diff.Affected.
func LikelihoodRatio(diff *world.Diff) (float64, error) {
	total := 0.0
	for _, id := range diff.Affected() {
		after, err := world.LogProbOfValue(diff, id)
		if err != nil {
			return 0, err
		}
		if math.IsInf(after, -1) {
			return after, nil
		}
		before, err := world.LogProbOfValue(diff.Base(), id)
		if err != nil {
			return 0, err
		}
		total += after - before
	}
	return total, nil
}
