// Package memory provides an in-memory implementation of the run store used
// for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"relinfer/pkg/runs"
)

// Compile-time contract assertion ensuring memory.Store adheres to the run persistence interface.
var _ runs.PersistentStore = (*Store)(nil)

type (
	// Run aliases runs.Run for in-memory persistence operations.
	Run = runs.Run
	// Snapshot aliases runs.Snapshot.
	Snapshot = runs.Snapshot
	// Transaction aliases runs.Transaction representing a mutable unit of work.
	Transaction = runs.Transaction
	// View aliases runs.View providing read-only state.
	View = runs.View
)

type memoryState struct {
	runs map[string]Run
}

func newMemoryState() memoryState {
	return memoryState{runs: make(map[string]Run)}
}

func (s memoryState) clone() memoryState {
	cp := newMemoryState()
	for id, r := range s.runs {
		cp.runs[id] = r.Clone()
	}
	return cp
}

// Store provides an in-memory transactional run store.
type Store struct {
	mu    sync.RWMutex
	state memoryState
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Runs: s.state.clone().runs}
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	state := newMemoryState()
	for id, r := range snapshot.Runs {
		state.runs[id] = r.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

type transaction struct {
	state memoryState
}

type transactionView struct {
	state *memoryState
}

func (v transactionView) ListRuns() []Run { return runs.SortedRuns(v.state.runs) }

func (v transactionView) FindRun(id string) (Run, bool) {
	r, ok := v.state.runs[id]
	if !ok {
		return Run{}, false
	}
	return r.Clone(), true
}

// View returns a read-only view over the transactional state.
func (tx *transaction) View() View { return transactionView{state: &tx.state} }

// PutRun inserts or replaces a run record.
func (tx *transaction) PutRun(r Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id required")
	}
	tx.state.runs[r.ID] = r.Clone()
	return nil
}

// DeleteRun removes a run record.
func (tx *transaction) DeleteRun(id string) error {
	if _, ok := tx.state.runs[id]; !ok {
		return runs.ErrNotFound{ID: id}
	}
	delete(tx.state.runs, id)
	return nil
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(View) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(transactionView{state: &snapshot})
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindRun(id)
}

// ListRuns returns all runs ordered by start time.
func (s *Store) ListRuns() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return runs.SortedRuns(s.state.runs)
}
