// Package sqlite provides dependency boundary tests for the sqlite run store.
package sqlite

import (
	"go/build"
	"strings"
	"testing"
)

var allowedProjectImports = map[string]struct{}{
	"relinfer/pkg/runs":                          {},
	"relinfer/internal/infra/persistence/memory": {},
}

func TestImportsAreRunsOrStdlib(t *testing.T) {
	pkg, err := build.Default.ImportDir(".", 0)
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}
	for _, imp := range pkg.Imports {
		if !strings.HasPrefix(imp, "relinfer/") {
			continue
		}
		if _, ok := allowedProjectImports[imp]; ok {
			continue
		}
		t.Fatalf("unexpected dependency: %s", imp)
	}
}
