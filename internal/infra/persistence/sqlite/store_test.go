package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"relinfer/pkg/model"
	"relinfer/pkg/runs"
)

func sampleRun(id string) runs.Run {
	enc, _ := model.EncodeValue(true)
	ev := -1.25
	return runs.Run{
		ID:          id,
		Scenario:    "burglary",
		Algorithm:   runs.AlgorithmLikelihoodWeighting,
		Samples:     10,
		StartedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		LogEvidence: &ev,
		Queries: []runs.QueryResult{{Query: "Burglary", Samples: 10,
			Bins: []runs.Bin{{Value: enc, Probability: 1}}}},
	}
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	if err := store.RunInTransaction(ctx, func(tx runs.Transaction) error {
		if err := tx.PutRun(sampleRun("a")); err != nil {
			return err
		}
		return tx.PutRun(sampleRun("b"))
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.RunInTransaction(ctx, func(tx runs.Transaction) error { return tx.DeleteRun("b") }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = store.Close()

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	got := reloaded.ListRuns()
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only run a after reload, got %+v", got)
	}
	if got[0].Queries[0].Probability(true) != 1 || *got[0].LogEvidence != -1.25 {
		t.Fatalf("run payload not preserved: %+v", got[0])
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreCreatesRunsTable(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var name string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", "runs").Scan(&name); err != nil {
		t.Fatalf("lookup runs table: %v", err)
	}
}

func TestSQLiteStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO runs(id,payload) VALUES(?,?)`, "x", []byte("{")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = store.Close()
	if _, err := NewStore(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
