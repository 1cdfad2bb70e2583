// Package runs defines the inference run records shared by the service and
// its persistence backends.
package runs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"relinfer/pkg/model"
)

// Algorithm names the inference procedure that produced a run.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmLikelihoodWeighting Algorithm = "likelihood-weighting"
	AlgorithmMetropolisHastings  Algorithm = "metropolis-hastings"
	AlgorithmGibbs               Algorithm = "gibbs"
)

// Bin is one value of a query histogram with its normalised probability.
type Bin struct {
	Value       model.EncodedValue `json:"value"`
	Probability float64            `json:"probability"`
	LogWeight   float64            `json:"log_weight"`
}

// QueryResult is the weighted histogram of one query variable.
type QueryResult struct {
	Query          model.VarID `json:"query"`
	Samples        int         `json:"samples"`
	TotalLogWeight float64     `json:"total_log_weight"`
	Bins           []Bin       `json:"bins"`
	Mean           *float64    `json:"mean,omitempty"`
}

// Probability returns the probability of v, or zero when v was never seen.
func (q QueryResult) Probability(v model.Value) float64 {
	enc, err := model.EncodeValue(v)
	if err != nil {
		return 0
	}
	for _, b := range q.Bins {
		if sameEncoded(b.Value, enc) {
			return b.Probability
		}
	}
	return 0
}

func sameEncoded(a, b model.EncodedValue) bool {
	av, errA := a.Decode()
	bv, errB := b.Decode()
	return errA == nil && errB == nil && av == bv
}

// Stats summarises an MCMC run.
type Stats struct {
	Steps    int `json:"steps"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// AcceptanceRate returns accepted/steps, or zero before any step.
func (s Stats) AcceptanceRate() float64 {
	if s.Steps == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Steps)
}

// Run is the persisted record of one inference request.
type Run struct {
	ID          string        `json:"id"`
	Scenario    string        `json:"scenario"`
	Algorithm   Algorithm     `json:"algorithm"`
	Samples     int           `json:"samples"`
	Seed        uint64        `json:"seed"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	LogEvidence *float64      `json:"log_evidence,omitempty"`
	Stats       *Stats        `json:"stats,omitempty"`
	Checkpoint  string        `json:"checkpoint,omitempty"`
	Queries     []QueryResult `json:"queries"`
}

// Query returns the result for id.
func (r Run) Query(id model.VarID) (QueryResult, bool) {
	for _, q := range r.Queries {
		if q.Query == id {
			return q, true
		}
	}
	return QueryResult{}, false
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Clone returns a deep copy of r.
func (r Run) Clone() Run {
	cp := r
	if r.LogEvidence != nil {
		v := *r.LogEvidence
		cp.LogEvidence = &v
	}
	if r.Stats != nil {
		st := *r.Stats
		cp.Stats = &st
	}
	cp.Queries = make([]QueryResult, len(r.Queries))
	for i, q := range r.Queries {
		qc := q
		qc.Bins = append([]Bin(nil), q.Bins...)
		if q.Mean != nil {
			m := *q.Mean
			qc.Mean = &m
		}
		cp.Queries[i] = qc
	}
	return cp
}

// Snapshot is the full persisted state of a run store.
type Snapshot struct {
	Runs map[string]Run `json:"runs"`
}

// SortedRuns returns the runs of a snapshot ordered by start time, then id.
func SortedRuns(runs map[string]Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ErrNotFound is returned when a run id is unknown.
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("run %s not found", e.ID)
}

// Transaction is the mutable unit of work a store exposes.
type Transaction interface {
	View() View
	PutRun(Run) error
	DeleteRun(id string) error
}

// View provides read-only access to stored runs.
type View interface {
	ListRuns() []Run
	FindRun(id string) (Run, bool)
}

// PersistentStore is the abstraction over durable run backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(View) error) error
	GetRun(id string) (Run, bool)
	ListRuns() []Run
}
