package runs

import (
	"errors"
	"testing"
	"time"

	"relinfer/pkg/model"
)

func encoded(t *testing.T, v model.Value) model.EncodedValue {
	t.Helper()
	enc, err := model.EncodeValue(v)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	return enc
}

func TestQueryResultProbability(t *testing.T) {
	q := QueryResult{Query: "Burglary", Bins: []Bin{
		{Value: encoded(t, false), Probability: 0.7},
		{Value: encoded(t, true), Probability: 0.3},
	}}
	if got := q.Probability(true); got != 0.3 {
		t.Fatalf("P(true) = %v", got)
	}
	if got := q.Probability("missing"); got != 0 {
		t.Fatalf("unseen value should have zero probability, got %v", got)
	}
}

func TestRunCloneIsDeep(t *testing.T) {
	mean := 1.5
	ev := -2.0
	r := Run{ID: "a", LogEvidence: &ev, Stats: &Stats{Steps: 4, Accepted: 1},
		Queries: []QueryResult{{Query: "Mu", Mean: &mean, Bins: []Bin{{Probability: 1}}}}}
	cp := r.Clone()
	*cp.LogEvidence = 0
	cp.Stats.Steps = 9
	*cp.Queries[0].Mean = 3
	cp.Queries[0].Bins[0].Probability = 0
	if *r.LogEvidence != -2 || r.Stats.Steps != 4 || *r.Queries[0].Mean != 1.5 || r.Queries[0].Bins[0].Probability != 1 {
		t.Fatalf("clone shares memory with original: %+v", r)
	}
	if got := (Stats{Steps: 4, Accepted: 1}).AcceptanceRate(); got != 0.25 {
		t.Fatalf("acceptance rate = %v", got)
	}
}

func TestSortedRunsOrdersByStart(t *testing.T) {
	now := time.Now()
	got := SortedRuns(map[string]Run{
		"b": {ID: "b", StartedAt: now},
		"a": {ID: "a", StartedAt: now},
		"c": {ID: "c", StartedAt: now.Add(-time.Minute)},
	})
	if got[0].ID != "c" || got[1].ID != "a" || got[2].ID != "b" {
		t.Fatalf("unexpected order %v %v %v", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestErrNotFoundMessage(t *testing.T) {
	var err error = ErrNotFound{ID: "x"}
	var nf ErrNotFound
	if !errors.As(err, &nf) || nf.Error() != "run x not found" {
		t.Fatalf("unexpected error %v", err)
	}
}
