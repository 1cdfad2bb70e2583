package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	fs, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil || fs.Driver() != DriverFilesystem {
		t.Fatalf("expected fs default, got %v %v", fs, err)
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %v %v", mem, err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestBackendsShareSemantics(t *testing.T) {
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	stores := map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3":     NewMockS3ForTests(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Put(ctx, "checkpoints/a.json", bytes.NewReader([]byte(`{"a":1}`)), PutOptions{ContentType: "application/json"}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := s.Put(ctx, "checkpoints/a.json", bytes.NewReader(nil), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			_, rc, err := s.Get(ctx, "checkpoints/a.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(body) != `{"a":1}` {
				t.Fatalf("unexpected body %q", body)
			}
			if _, _, err := s.Get(ctx, "checkpoints/missing.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			list, err := s.List(ctx, "checkpoints/")
			if err != nil || len(list) != 1 || list[0].Key != "checkpoints/a.json" {
				t.Fatalf("list: %v %+v", err, list)
			}
			if ok, err := s.Delete(ctx, "checkpoints/a.json"); err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			if ok, err := s.Delete(ctx, "checkpoints/a.json"); err != nil || ok {
				t.Fatalf("second delete should report absence: %v %v", ok, err)
			}
		})
	}
}
