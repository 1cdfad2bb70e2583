package testutil

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

const upsert = "INSERT INTO runs(id,payload) VALUES($1,$2) ON CONFLICT(id) DO UPDATE SET payload=EXCLUDED.payload"

func TestRunsTableAppliesWritesOnCommit(t *testing.T) {
	ctx := context.Background()
	db, table := NewRunsDB()
	table.Seed("old", []byte(`{"id":"old"}`))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	for _, payload := range []string{`{}`, `{"id":"r1"}`} {
		if _, err := tx.ExecContext(ctx, upsert, "r1", []byte(payload)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id=$1", "old"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := table.IDs(); !reflect.DeepEqual(got, []string{"old"}) {
		t.Fatalf("uncommitted writes leaked: %v", got)
	}
	var ids []string
	rows, err := tx.QueryContext(ctx, "SELECT id FROM runs")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan: %v", err)
		}
		ids = append(ids, id)
	}
	if !reflect.DeepEqual(ids, []string{"r1"}) {
		t.Fatalf("transaction sees %v, want its own writes", ids)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := table.IDs(); !reflect.DeepEqual(got, []string{"r1"}) {
		t.Fatalf("committed ids = %v", got)
	}
	if p, _ := table.Payload("r1"); string(p) != `{"id":"r1"}` {
		t.Fatalf("payload = %s", p)
	}
}

func TestRunsTableRollbackAndFailedCommitDiscard(t *testing.T) {
	ctx := context.Background()
	db, table := NewRunsDB()
	for _, failCommit := range []bool{false, true} {
		table.FailCommit = failCommit
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx: %v", err)
		}
		if _, err := tx.ExecContext(ctx, upsert, "r1", []byte(`{}`)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if failCommit {
			if err := tx.Commit(); err == nil {
				t.Fatalf("expected commit failure")
			}
		} else if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		if got := table.IDs(); len(got) != 0 {
			t.Fatalf("discarded transaction left rows %v", got)
		}
	}
}

func TestRunsTableRejectsForeignStatements(t *testing.T) {
	ctx := context.Background()
	db, table := NewRunsDB()
	if _, err := db.ExecContext(ctx, "UPDATE runs SET payload=$1", "{}"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported statement, got %v", err)
	}
	if _, err := db.QueryContext(ctx, "SELECT payload FROM checkpoints"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported query, got %v", err)
	}
	if got := table.Statements(); len(got) != 2 {
		t.Fatalf("statements = %v", got)
	}
	table.FailPing = true
	if err := db.PingContext(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
}
