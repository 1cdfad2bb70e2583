// Package testutil holds the boundary checks package tests use to keep the
// public model free of the engine and plugins off the engine's internals.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Boundary names the package trees a set of packages must not import.
type Boundary struct {
	Reason string
	Roots  []string
}

// PublicAPI keeps pkg/ free of the module's internal tree.
var PublicAPI = Boundary{
	Reason: "public API packages must not depend on relinfer/internal",
	Roots:  []string{"relinfer/internal"},
}

// Forbids reports whether path is one of the roots or nested below one.
func (b Boundary) Forbids(path string) bool {
	for _, root := range b.Roots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}

// Violation is one forbidden import. Via is a file position for a direct
// import and the importing chain for a transitive one.
type Violation struct {
	Import string
	Via    string
}

func (v Violation) String() string { return v.Import + " via " + v.Via }

// DirectImports parses the non-test Go files directly in dir and returns
// the imports b forbids, ordered by position.
func (b Boundary) DirectImports(dir string) ([]Violation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var out []Violation
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, spec := range f.Imports {
			path, err := strconv.Unquote(spec.Path.Value)
			if err != nil || !b.Forbids(path) {
				continue
			}
			pos := fset.Position(spec.Pos())
			out = append(out, Violation{Import: path, Via: name + ":" + strconv.Itoa(pos.Line)})
		}
	}
	return out, nil
}

var loadGraph = func(dir string, patterns ...string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps, Dir: dir}
	return packages.Load(cfg, patterns...)
}

// Reachable loads the packages matching patterns from dir and returns every
// forbidden package in their import graph. Each is reported once, with the
// shortest chain of imports that reaches it. The walk stops at forbidden
// packages, so only the first crossing of the boundary is listed.
func (b Boundary) Reachable(dir string, patterns ...string) ([]Violation, error) {
	roots, err := loadGraph(dir, patterns...)
	if err != nil {
		return nil, err
	}
	from := make(map[string]string)
	queue := make([]*packages.Package, 0, len(roots))
	for _, p := range roots {
		if _, ok := from[p.PkgPath]; !ok {
			from[p.PkgPath] = ""
			queue = append(queue, p)
		}
	}
	var out []Violation
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		paths := make([]string, 0, len(p.Imports))
		for path := range p.Imports {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			if _, seen := from[path]; seen {
				continue
			}
			from[path] = p.PkgPath
			if b.Forbids(path) {
				out = append(out, Violation{Import: path, Via: chain(from, p.PkgPath)})
				continue
			}
			queue = append(queue, p.Imports[path])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Import < out[j].Import })
	return out, nil
}

func chain(from map[string]string, last string) string {
	var links []string
	for p := last; p != ""; p = from[p] {
		links = append(links, p)
	}
	for i, j := 0, len(links)-1; i < j; i, j = i+1, j-1 {
		links[i], links[j] = links[j], links[i]
	}
	return strings.Join(links, " -> ")
}

// reporter is the part of testing.TB the checks write to.
type reporter interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// CheckDirect fails t once per forbidden import in dir.
func (b Boundary) CheckDirect(t testing.TB, dir string) {
	t.Helper()
	viols, err := b.DirectImports(dir)
	b.report(t, "import", viols, err)
}

// CheckReachable fails t once per forbidden package reachable from the
// packages matching patterns in dir.
func (b Boundary) CheckReachable(t testing.TB, dir string, patterns ...string) {
	t.Helper()
	viols, err := b.Reachable(dir, patterns...)
	b.report(t, "dependency", viols, err)
}

func (b Boundary) report(t reporter, kind string, viols []Violation, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s check: %v", kind, err)
		return
	}
	for _, v := range viols {
		t.Errorf("forbidden %s %s (%s)", kind, v, b.Reason)
	}
}
