// Package checkpoint stores committed chain worlds as JSON documents in a
// blob store so a later MCMC run can resume from them.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"relinfer/internal/blob"
	"relinfer/internal/world"
)

const (
	keyPrefix   = "checkpoints/"
	contentType = "application/json"
)

// ErrNotFound is returned by Load when a run has no checkpoint.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the stored document.
type Checkpoint struct {
	RunID    string         `json:"run_id"`
	Scenario string         `json:"scenario"`
	Steps    int            `json:"steps"`
	SavedAt  time.Time      `json:"saved_at"`
	World    world.Snapshot `json:"world"`
}

// Store reads and writes checkpoints under the "checkpoints/" prefix.
type Store struct {
	blobs blob.Store
	now   func() time.Time
}

// New wraps a blob store.
func New(b blob.Store) *Store {
	return &Store{blobs: b, now: func() time.Time { return time.Now().UTC() }}
}

// Key returns the blob key for runID.
func Key(runID string) string { return keyPrefix + runID + ".json" }

// Save writes cp and returns its key. Each run can be checkpointed once.
func (s *Store) Save(ctx context.Context, cp Checkpoint) (string, error) {
	if cp.RunID == "" {
		return "", fmt.Errorf("checkpoint run id required")
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = s.now()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	key := Key(cp.RunID)
	_, err = s.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"scenario": cp.Scenario},
	})
	if err != nil {
		return "", fmt.Errorf("store checkpoint %s: %w", cp.RunID, err)
	}
	return key, nil
}

// Load reads the checkpoint of runID.
func (s *Store) Load(ctx context.Context, runID string) (Checkpoint, error) {
	_, rc, err := s.blobs.Get(ctx, Key(runID))
	if errors.Is(err, blob.ErrNotFound) {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return Checkpoint{}, err
	}
	defer func() { _ = rc.Close() }()
	var cp Checkpoint
	if err := json.NewDecoder(rc).Decode(&cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return cp, nil
}

// List returns the run ids that have checkpoints, ordered.
func (s *Store) List(ctx context.Context) ([]string, error) {
	infos, err := s.blobs.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		id := strings.TrimSuffix(strings.TrimPrefix(info.Key, keyPrefix), ".json")
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes the checkpoint of runID, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, runID string) (bool, error) {
	return s.blobs.Delete(ctx, Key(runID))
}
