package model

import (
	"fmt"
	"math"
)

// Observation fixes the value of one random variable.
type Observation struct {
	Term  Term
	Value Value
}

// Evidence is the set of observed variable values conditioning inference.
type Evidence struct {
	observations []Observation
	index        map[VarID]int
}

// NewEvidence builds an evidence set. A later observation of the same
// variable replaces an earlier one.
func NewEvidence(obs ...Observation) *Evidence {
	e := &Evidence{index: make(map[VarID]int)}
	for _, o := range obs {
		e.Observe(o.Term, o.Value)
	}
	return e
}

// Observe records an observed value.
func (e *Evidence) Observe(t Term, v Value) {
	if e.index == nil {
		e.index = make(map[VarID]int)
	}
	id := t.ID()
	if i, ok := e.index[id]; ok {
		e.observations[i].Value = v
		return
	}
	e.index[id] = len(e.observations)
	e.observations = append(e.observations, Observation{Term: t, Value: v})
}

// Observations returns the observations in insertion order.
func (e *Evidence) Observations() []Observation {
	if e == nil {
		return nil
	}
	return append([]Observation(nil), e.observations...)
}

// Vars returns the observed terms.
func (e *Evidence) Vars() []Term {
	if e == nil {
		return nil
	}
	out := make([]Term, len(e.observations))
	for i, o := range e.observations {
		out[i] = o.Term
	}
	return out
}

// Contains reports whether id is observed.
func (e *Evidence) Contains(id VarID) bool {
	if e == nil {
		return false
	}
	_, ok := e.index[id]
	return ok
}

// Len returns the number of observations.
func (e *Evidence) Len() int {
	if e == nil {
		return 0
	}
	return len(e.observations)
}

// LogProbability returns the log probability of the observed values given the
// parent values ctx resolves. Observations whose value is impossible yield
// -Inf without error.
func (e *Evidence) LogProbability(m *Model, ctx Context) (float64, error) {
	total := 0.0
	for _, o := range e.Observations() {
		v, err := m.Var(o.Term)
		if err != nil {
			return 0, err
		}
		d, err := v.Distrib(ctx)
		if err != nil {
			return 0, fmt.Errorf("evidence %s: %w", v.ID(), err)
		}
		total += d.LogProb(o.Value)
		if math.IsInf(total, -1) {
			return total, nil
		}
	}
	return total, nil
}

// Probability is LogProbability in linear space.
func (e *Evidence) Probability(m *Model, ctx Context) (float64, error) {
	lp, err := e.LogProbability(m, ctx)
	if err != nil {
		return 0, err
	}
	return math.Exp(lp), nil
}

// Scenario bundles a model with the evidence and queries of one inference
// problem. Plugins contribute scenarios to the catalogue.
type Scenario struct {
	Name        string
	Description string
	Model       *Model
	Evidence    *Evidence
	Queries     []Term
}

// Validate checks that every evidence and query term names a known function.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name required")
	}
	if s.Model == nil {
		return fmt.Errorf("scenario %s has no model", s.Name)
	}
	if len(s.Queries) == 0 {
		return fmt.Errorf("scenario %s has no queries", s.Name)
	}
	for _, t := range append(s.Evidence.Vars(), s.Queries...) {
		if _, err := s.Model.Var(t); err != nil {
			return fmt.Errorf("scenario %s: %w", s.Name, err)
		}
	}
	return nil
}
