// Package lw implements likelihood weighting: evidence is fixed, ancestors
// of the evidence and the queries are sampled forward, and each sample is
// weighted by the evidence probability.
package lw

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"relinfer/internal/sampler"
	"relinfer/internal/world"
	"relinfer/pkg/model"
)

// Sink receives weighted query values.
type Sink interface {
	Add(query model.VarID, v model.Value, logWeight float64)
}

// Sampler produces one weighted world per call.
type Sampler struct {
	factory  *sampler.Factory
	evidence *model.Evidence
	queries  []model.Term
	base     *world.PartialWorld
	logger   *slog.Logger

	latest    *world.PartialWorld
	logWeight float64
}

// New builds a likelihood-weighting sampler. base may be nil; when set, each
// sample starts from a copy of it.
func New(f *sampler.Factory, evidence *model.Evidence, queries []model.Term, base *world.PartialWorld, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		factory:   f,
		evidence:  evidence,
		queries:   append([]model.Term(nil), queries...),
		base:      base,
		logger:    logger,
		logWeight: math.Inf(-1),
	}
}

// NextSample draws a fresh world.
func (s *Sampler) NextSample() (*world.PartialWorld, error) {
	m := s.factory.Model()
	w := world.NewPartialWorld()
	if s.base != nil {
		w = s.base.Clone()
	}
	for _, o := range s.evidence.Observations() {
		v, err := m.Var(o.Term)
		if err != nil {
			return nil, err
		}
		w.Set(v, o.Value)
	}
	ctx := sampler.NewEvalContext(w, s.factory, s.evidence)
	for _, t := range s.evidence.Vars() {
		v, err := m.Var(t)
		if err != nil {
			return nil, err
		}
		if _, err := v.Distrib(ctx); err != nil {
			return nil, fmt.Errorf("instantiate parents of %s: %w", v.ID(), err)
		}
	}
	for _, q := range s.queries {
		if _, err := ctx.Value(q); err != nil {
			return nil, fmt.Errorf("instantiate query %s: %w", q.ID(), err)
		}
	}
	evidenceLP, err := s.evidence.LogProbability(m, world.NewReadContext(w))
	if err != nil {
		return nil, err
	}
	s.latest = w
	s.logWeight = ctx.LogWeight() + evidenceLP
	return w, nil
}

// LatestLogWeight is the log weight of the last sample: the importance
// correction accrued while instantiating ancestors plus the log evidence
// probability in that world.
func (s *Sampler) LatestLogWeight() float64 { return s.logWeight }

// LatestWorld returns the last sampled world.
func (s *Sampler) LatestWorld() *world.PartialWorld { return s.latest }

// Summary describes a completed run.
type Summary struct {
	Samples    int
	ZeroWeight int
	// LogEvidence estimates log P(evidence) as the log mean sample weight.
	LogEvidence float64
}

// Run draws n samples and feeds each query value to sink. ctx is checked
// between samples.
func (s *Sampler) Run(ctx context.Context, n int, sink Sink) (Summary, error) {
	weights := make([]float64, 0, n)
	summary := Summary{LogEvidence: math.Inf(-1)}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		w, err := s.NextSample()
		if err != nil {
			return summary, fmt.Errorf("sample %d: %w", i, err)
		}
		lw := s.logWeight
		summary.Samples++
		if math.IsInf(lw, -1) {
			summary.ZeroWeight++
		} else {
			weights = append(weights, lw)
		}
		if sink == nil {
			continue
		}
		for _, q := range s.queries {
			v, _ := w.Value(q.ID())
			sink.Add(q.ID(), v, lw)
		}
	}
	if len(weights) > 0 {
		summary.LogEvidence = floats.LogSumExp(weights) - math.Log(float64(summary.Samples))
	}
	s.logger.Info("likelihood weighting finished", "samples", summary.Samples,
		"zero_weight", summary.ZeroWeight, "log_evidence", summary.LogEvidence)
	return summary, nil
}
