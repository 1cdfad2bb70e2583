package core

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"

	"relinfer/internal/checkpoint"
	"relinfer/internal/histogram"
	"relinfer/internal/lw"
	"relinfer/internal/mcmc"
	"relinfer/internal/sampler"
	"relinfer/pkg/model"
	"relinfer/pkg/runs"
)

func newRunID() string { return uuid.NewString() }

// LWRequest asks for a likelihood-weighting run.
type LWRequest struct {
	Scenario string
	Samples  int
	// Seed of the run's random source; zero picks one.
	Seed uint64
	// BinWidth buckets numeric query values; zero keeps one bin per value.
	BinWidth map[model.VarID]float64
}

// MCMCRequest asks for a Metropolis-Hastings or Gibbs run.
type MCMCRequest struct {
	Scenario string
	Steps    int
	BurnIn   int
	Thin     int
	Seed     uint64
	// Gibbs restricts proposals to conjugate Gibbs updates.
	Gibbs    bool
	BinWidth map[model.VarID]float64
	// Checkpoint stores the final world when a checkpoint store is configured.
	Checkpoint bool
	// ResumeFrom starts the chain from another run's checkpoint.
	ResumeFrom string
}

func (s *Service) newHistograms(queries []model.Term, widths map[model.VarID]float64) *histogram.Set {
	ids := make([]model.VarID, len(queries))
	for i, q := range queries {
		ids[i] = q.ID()
	}
	set := histogram.NewSet(ids...)
	for id, w := range widths {
		set.Bin(id, w)
	}
	return set
}

func pickSeed(seed uint64) uint64 {
	for seed == 0 {
		seed = rand.Uint64()
	}
	return seed
}

// RunLikelihoodWeighting draws req.Samples weighted worlds and stores the
// resulting query histograms.
func (s *Service) RunLikelihoodWeighting(ctx context.Context, req LWRequest) (run runs.Run, err error) {
	ctx, finish := s.observe(ctx, "run_likelihood_weighting")
	defer func() { finish(err) }()
	if req.Samples <= 0 {
		return runs.Run{}, fmt.Errorf("samples must be positive, got %d", req.Samples)
	}
	sc, variants, err := s.resolve(req.Scenario)
	if err != nil {
		return runs.Run{}, err
	}
	run = runs.Run{
		ID:        s.newID(),
		Scenario:  sc.Name,
		Algorithm: runs.AlgorithmLikelihoodWeighting,
		Samples:   req.Samples,
		Seed:      pickSeed(req.Seed),
		StartedAt: s.now(),
	}
	logger := s.logger.With("run_id", run.ID, "scenario", sc.Name)
	factory := sampler.NewFactory(sc.Model, newRNG(run.Seed), variants...)
	sink := s.newHistograms(sc.Queries, req.BinWidth)

	summary, err := lw.New(factory, sc.Evidence, sc.Queries, nil, logger).Run(ctx, req.Samples, sink)
	if err != nil {
		logger.Error("likelihood weighting failed", "error", err)
		return runs.Run{}, err
	}
	run.FinishedAt = s.now()
	run.Queries = sink.Results()
	if !math.IsInf(summary.LogEvidence, -1) {
		le := summary.LogEvidence
		run.LogEvidence = &le
	}
	if err := s.saveRun(ctx, run); err != nil {
		return runs.Run{}, fmt.Errorf("save run: %w", err)
	}
	logger.Info("run stored", "samples", summary.Samples, "zero_weight", summary.ZeroWeight)
	return run, nil
}

// RunMCMC runs one chain for req.Steps proposals and stores the histograms of
// the recorded states.
func (s *Service) RunMCMC(ctx context.Context, req MCMCRequest) (run runs.Run, err error) {
	ctx, finish := s.observe(ctx, "run_mcmc")
	defer func() { finish(err) }()
	if req.Steps <= 0 {
		return runs.Run{}, fmt.Errorf("steps must be positive, got %d", req.Steps)
	}
	if (req.Checkpoint || req.ResumeFrom != "") && s.checkpoints == nil {
		return runs.Run{}, fmt.Errorf("checkpoint store not configured")
	}
	sc, variants, err := s.resolve(req.Scenario)
	if err != nil {
		return runs.Run{}, err
	}
	algorithm := runs.AlgorithmMetropolisHastings
	if req.Gibbs {
		algorithm = runs.AlgorithmGibbs
	}
	run = runs.Run{
		ID:        s.newID(),
		Scenario:  sc.Name,
		Algorithm: algorithm,
		Samples:   req.Steps,
		Seed:      pickSeed(req.Seed),
		StartedAt: s.now(),
	}
	logger := s.logger.With("run_id", run.ID, "scenario", sc.Name, "algorithm", string(algorithm))
	rng := newRNG(run.Seed)
	factory := sampler.NewFactory(sc.Model, rng, variants...)
	var kernel mcmc.Kernel
	if req.Gibbs {
		kernel = mcmc.NewGibbsProposer(factory, mcmc.WithLogger(logger))
	} else {
		kernel = mcmc.NewProposer(factory, mcmc.WithLogger(logger))
	}
	chain := mcmc.NewChain(kernel, rng, mcmc.ChainConfig{BurnIn: req.BurnIn, Thin: req.Thin}, logger)
	if err := chain.Initialize(sc.Evidence, sc.Queries); err != nil {
		return runs.Run{}, err
	}
	if req.ResumeFrom != "" {
		if err := s.resume(ctx, chain, sc, req.ResumeFrom); err != nil {
			return runs.Run{}, err
		}
		logger.Info("chain resumed", "from", req.ResumeFrom)
	}

	sink := s.newHistograms(sc.Queries, req.BinWidth)
	if err := chain.Run(ctx, req.Steps, sink); err != nil {
		logger.Error("chain failed", "error", err)
		return runs.Run{}, err
	}
	stats := chain.Stats()
	if cm, ok := s.metrics.(ChainMetrics); ok {
		cm.ObserveChain(ctx, sc.Name, stats)
	}
	run.FinishedAt = s.now()
	run.Stats = &stats
	run.Queries = sink.Results()

	if req.Checkpoint {
		snap, err := chain.Snapshot()
		if err != nil {
			return runs.Run{}, err
		}
		key, err := s.checkpoints.Save(ctx, checkpoint.Checkpoint{
			RunID:    run.ID,
			Scenario: sc.Name,
			Steps:    stats.Steps,
			World:    snap,
		})
		if err != nil {
			return runs.Run{}, err
		}
		run.Checkpoint = key
	}
	if err := s.saveRun(ctx, run); err != nil {
		return runs.Run{}, fmt.Errorf("save run: %w", err)
	}
	logger.Info("run stored", "steps", stats.Steps, "acceptance_rate", stats.AcceptanceRate())
	return run, nil
}

func (s *Service) resume(ctx context.Context, chain *mcmc.Chain, sc model.Scenario, from string) error {
	cp, err := s.checkpoints.Load(ctx, from)
	if err != nil {
		return err
	}
	if cp.Scenario != sc.Name {
		return fmt.Errorf("checkpoint %s belongs to scenario %s, not %s", from, cp.Scenario, sc.Name)
	}
	return chain.Restore(sc.Model, cp.World)
}
