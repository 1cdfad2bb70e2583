package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"relinfer/internal/blob/core"
)

func TestPutWritesDataAndSidecar(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	payload := []byte("checkpoint")
	info, err := s.Put(context.Background(), "runs/r1.json", bytes.NewReader(payload), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sum := sha256.Sum256(payload)
	if info.ETag != hex.EncodeToString(sum[:]) || info.Size != int64(len(payload)) {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "runs", "r1.json.meta")); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	list, err := s.List(context.Background(), "")
	if err != nil || len(list) != 1 || list[0].ContentType != "application/json" {
		t.Fatalf("list: %v %+v", err, list)
	}
	if s.Root() != root {
		t.Fatalf("unexpected root %s", s.Root())
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, _ := New(t.TempDir())
	for _, key := range []string{"", "  ", "/abs", "../up", "a/../../b", "x.meta"} {
		if _, err := s.Put(context.Background(), key, bytes.NewReader(nil), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for %q", key)
		}
	}
}

func TestCorruptSidecarSurfacesError(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	if _, err := s.Put(context.Background(), "k", bytes.NewReader([]byte("v")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "k.meta"), []byte("{"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := s.List(context.Background(), ""); err == nil {
		t.Fatalf("expected list error")
	}
}
