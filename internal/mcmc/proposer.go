// Package mcmc implements the Metropolis-Hastings transition kernel over
// partial worlds and the chain driver that accepts or rejects its proposals.
package mcmc

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"relinfer/internal/sampler"
	"relinfer/internal/world"
	"relinfer/pkg/model"
)

// ErrNoCandidates is returned when no instantiated variable can be resampled.
var ErrNoCandidates = errors.New("no variable eligible for resampling")

// ErrInconsistentEvidence is returned when no starting world gives the
// evidence positive probability.
var ErrInconsistentEvidence = errors.New("evidence has zero probability in every initial world")

// ErrDirtyDiff is returned when a proposal starts on a diff that still holds
// the previous proposal's changes.
var ErrDirtyDiff = errors.New("diff holds an unresolved proposal")

// DefaultInitAttempts bounds the search for an initial world.
const DefaultInitAttempts = 100

// seedDraws bounds the uniform draws a restricted proposer makes before it
// scans the whole pool for eligible seeds.
const seedDraws = 32

// Kernel is the transition kernel a Chain drives.
type Kernel interface {
	Initialize(evidence *model.Evidence, queries []model.Term) (*world.Diff, error)
	// ProposeNextState mutates diff and returns the log factor of the
	// reverse and forward block weights. The model likelihood ratio of the
	// untouched variables is not included.
	ProposeNextState(diff *world.Diff) (float64, error)
	// AlwaysAccepts reports whether every proposal is an exact conditional
	// draw.
	AlwaysAccepts() bool
}

var (
	_ Kernel = (*Proposer)(nil)
)

// Option configures a Proposer.
type Option func(*Proposer)

// WithLogger sets the proposer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Proposer) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithInitAttempts overrides DefaultInitAttempts.
func WithInitAttempts(n int) Option {
	return func(p *Proposer) {
		if n > 0 {
			p.initAttempts = n
		}
	}
}

// WithBase starts chains from a copy of base instead of an empty world.
func WithBase(base *world.PartialWorld) Option {
	return func(p *Proposer) { p.base = base }
}

// Proposer resamples the block of one uniformly chosen non-evidence variable
// per step.
type Proposer struct {
	factory      *sampler.Factory
	rng          *rand.Rand
	logger       *slog.Logger
	initAttempts int
	base         *world.PartialWorld

	// restrict, when set, is the only variant seeds may be sampled with.
	restrict sampler.Variant

	evidence *model.Evidence
	queries  []model.Term

	// pool mirrors the non-evidence variables of tracked. pending lists the
	// variables the last proposal touched, reconciled on the next call.
	pool    *seedPool
	tracked *world.PartialWorld
	pending []model.VarID
}

// NewProposer builds a Metropolis-Hastings proposer over f.
func NewProposer(f *sampler.Factory, opts ...Option) *Proposer {
	p := &Proposer{
		factory:      f,
		rng:          f.Rand(),
		logger:       slog.Default(),
		initAttempts: DefaultInitAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewGibbsProposer builds a proposer whose seeds are restricted to variables
// with a conjugate Gibbs update. Its proposals are always accepted.
func NewGibbsProposer(f *sampler.Factory, opts ...Option) *Proposer {
	p := NewProposer(f, opts...)
	p.restrict = sampler.GibbsVariant{}
	return p
}

// AlwaysAccepts implements Kernel.
func (p *Proposer) AlwaysAccepts() bool { return p.restrict != nil }

// Initialize builds a self-supporting starting world in which the evidence
// is fixed and has positive probability, and every query is instantiated.
func (p *Proposer) Initialize(evidence *model.Evidence, queries []model.Term) (*world.Diff, error) {
	p.evidence = evidence
	p.queries = append([]model.Term(nil), queries...)
	m := p.factory.Model()

	var lastErr error
	for attempt := 1; attempt <= p.initAttempts; attempt++ {
		w := world.NewPartialWorld()
		if p.base != nil {
			w = p.base.Clone()
		}
		for _, o := range evidence.Observations() {
			v, err := m.Var(o.Term)
			if err != nil {
				return nil, err
			}
			w.Set(v, o.Value)
		}
		ctx := sampler.NewEvalContext(w, p.factory, evidence)
		for _, t := range evidence.Vars() {
			v, err := m.Var(t)
			if err != nil {
				return nil, err
			}
			if _, err := v.Distrib(ctx); err != nil {
				return nil, fmt.Errorf("instantiate parents of %s: %w", v.ID(), err)
			}
		}
		for _, q := range queries {
			if _, err := ctx.Value(q); err != nil {
				return nil, fmt.Errorf("instantiate query %s: %w", q.ID(), err)
			}
		}
		lp, err := evidence.LogProbability(m, world.NewReadContext(w))
		if err != nil {
			return nil, err
		}
		if !math.IsInf(lp, -1) {
			p.logger.Debug("initial world built", "attempt", attempt, "vars", w.Len(), "evidence_log_prob", lp)
			w.TrackDependencies()
			return world.NewDiff(w), nil
		}
		lastErr = ErrInconsistentEvidence
	}
	return nil, fmt.Errorf("after %d attempts: %w", p.initAttempts, lastErr)
}

// ProposeNextState unsamples and resamples the block of a random seed, then
// instantiates any parents the new values require. Apart from the block it
// only evaluates variables that read a touched one, so its cost follows the
// touched set rather than the world size.
func (p *Proposer) ProposeNextState(diff *world.Diff) (float64, error) {
	if diff.Dirty() {
		return 0, ErrDirtyDiff
	}
	p.sync(diff.Base())
	defer func() { p.pending = diff.Touched() }()

	s, err := p.pickSampler(diff)
	if err != nil {
		return 0, err
	}
	unsampled, err := s.Unsample()
	if err != nil {
		return 0, fmt.Errorf("unsample %s: %w", s.Seed().ID(), err)
	}
	sampled, err := s.Sample()
	if err != nil {
		return 0, fmt.Errorf("sample %s: %w", s.Seed().ID(), err)
	}

	support := sampler.NewEvalContext(diff, p.factory, p.evidence)
	for _, id := range append(diff.Touched(), diff.Affected()...) {
		v, ok := diff.Var(id)
		if !ok {
			continue
		}
		if _, err := v.Distrib(support); err != nil {
			return 0, fmt.Errorf("support %s: %w", id, err)
		}
	}
	factor := unsampled.LogWeight + sampled.LogWeight + support.LogWeight()
	p.logger.Debug("proposed", "seed", s.Seed().ID(), "block", len(s.Block()), "log_factor", factor)
	return factor, nil
}

// sync brings the candidate pool in line with base. A new base is indexed
// in full; otherwise only the previous proposal's variables are rechecked,
// which covers both a saved and a reverted diff.
func (p *Proposer) sync(base *world.PartialWorld) {
	ids := p.pending
	if base != p.tracked || p.pool == nil {
		base.TrackDependencies()
		p.tracked = base
		p.pool = newSeedPool()
		ids = base.Instantiated()
	}
	for _, id := range ids {
		if _, ok := base.Value(id); ok && !p.evidence.Contains(id) {
			p.pool.add(id)
		} else {
			p.pool.remove(id)
		}
	}
	p.pending = nil
}

func (p *Proposer) pickSampler(diff *world.Diff) (sampler.Sampler, error) {
	if p.restrict == nil {
		if p.pool.len() == 0 {
			return nil, ErrNoCandidates
		}
		seed, _ := diff.Var(p.pool.pick(p.rng))
		return p.factory.SamplerFor(seed, diff, p.evidence)
	}
	// Rejection keeps the choice uniform over eligible seeds without
	// testing every candidate.
	for i := 0; i < seedDraws && p.pool.len() > 0; i++ {
		seed, _ := diff.Var(p.pool.pick(p.rng))
		s, err := p.factory.MakeWith(p.restrict, seed, diff, p.evidence)
		if err != nil || s != nil {
			return s, err
		}
	}
	var eligible []sampler.Sampler
	for _, id := range p.pool.ids {
		seed, _ := diff.Var(id)
		s, err := p.factory.MakeWith(p.restrict, seed, diff, p.evidence)
		if err != nil {
			return nil, err
		}
		if s != nil {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: no %s-eligible variable", ErrNoCandidates, p.restrict.Name())
	}
	return eligible[p.rng.IntN(len(eligible))], nil
}
