package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"relinfer/testutil"
)

var engineInternals = testutil.Boundary{
	Reason: "plugins reach the engine only through relinfer/internal/core",
	Roots: []string{
		"relinfer/internal/infra",
		"relinfer/internal/world",
		"relinfer/internal/mcmc",
		"relinfer/internal/lw",
		"relinfer/internal/checkpoint",
	},
}

func TestPluginsStayOffEngineInternals(t *testing.T) {
	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatalf("read plugins dir: %v", err)
	}
	checked := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		engineInternals.CheckDirect(t, filepath.Join(".", e.Name()))
		checked++
	}
	if checked == 0 {
		t.Fatalf("no plugin packages found")
	}
}
