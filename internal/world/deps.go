package world

import (
	"slices"
	"sort"

	"relinfer/pkg/model"
)

// Dependents is implemented by worlds that can list the instantiated
// variables whose CPD reads a given variable.
type Dependents interface {
	Children(id model.VarID) []model.VarID
}

var (
	_ Dependents = (*PartialWorld)(nil)
	_ Dependents = (*Diff)(nil)
)

// deps records the parents each CPD read on its last evaluation and the
// reverse child edges. Entries in stale are re-read before the next lookup.
type deps struct {
	parents  map[model.VarID][]model.VarID
	children map[model.VarID]map[model.VarID]struct{}
	stale    map[model.VarID]struct{}
}

func newDeps() *deps {
	return &deps{
		parents:  make(map[model.VarID][]model.VarID),
		children: make(map[model.VarID]map[model.VarID]struct{}),
		stale:    make(map[model.VarID]struct{}),
	}
}

func (d *deps) record(id model.VarID, parents []model.VarID) {
	d.forget(id)
	d.parents[id] = parents
	for _, p := range parents {
		set, ok := d.children[p]
		if !ok {
			set = make(map[model.VarID]struct{})
			d.children[p] = set
		}
		set[id] = struct{}{}
	}
}

func (d *deps) forget(id model.VarID) {
	for _, p := range d.parents[id] {
		delete(d.children[p], id)
		if len(d.children[p]) == 0 {
			delete(d.children, p)
		}
	}
	delete(d.parents, id)
}

// invalidate marks id and every variable that read it for re-reading. A
// changed value can change which parents a child's CPD reaches.
func (d *deps) invalidate(id model.VarID) {
	d.stale[id] = struct{}{}
	for c := range d.children[id] {
		d.stale[c] = struct{}{}
	}
}

func (d *deps) sortedChildren(id model.VarID) []model.VarID {
	out := make([]model.VarID, 0, len(d.children[id]))
	for c := range d.children[id] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// readParents evaluates id's CPD on w and returns the parents it reached,
// including a missing one that stopped the evaluation.
func readParents(w World, v *model.VarWithDistrib) []model.VarID {
	rc := NewReadContext(w)
	_, _ = v.Distrib(rc)
	return rc.Accessed()
}

func reads(w World, v *model.VarWithDistrib, parent model.VarID) bool {
	return slices.Contains(readParents(w, v), parent)
}

// scanChildren is the unindexed fallback: every other instantiated variable
// is evaluated.
func scanChildren(w World, id model.VarID) []model.VarID {
	var out []model.VarID
	for _, c := range w.Instantiated() {
		if c == id {
			continue
		}
		v, _ := w.Var(c)
		if reads(w, v, id) {
			out = append(out, c)
		}
	}
	return out
}

// TrackDependencies turns on the parent and child index. Parents are read
// lazily, so the first lookup after enabling costs one CPD evaluation per
// variable and later lookups only re-read what changed.
func (w *PartialWorld) TrackDependencies() {
	if w.deps != nil {
		return
	}
	w.deps = newDeps()
	for id := range w.bindings {
		w.deps.stale[id] = struct{}{}
	}
}

// Tracking reports whether the world maintains a dependency index.
func (w *PartialWorld) Tracking() bool { return w.deps != nil }

func (w *PartialWorld) refresh() {
	if w.deps == nil || len(w.deps.stale) == 0 {
		return
	}
	for id := range w.deps.stale {
		if b, ok := w.bindings[id]; ok {
			w.deps.record(id, readParents(w, b.v))
		} else {
			w.deps.forget(id)
		}
	}
	clear(w.deps.stale)
}

// Parents lists the variables id's CPD read on its last evaluation. It is
// nil unless the world tracks dependencies.
func (w *PartialWorld) Parents(id model.VarID) []model.VarID {
	if w.deps == nil {
		return nil
	}
	w.refresh()
	return slices.Clone(w.deps.parents[id])
}

// Children lists the instantiated variables whose CPD reads id, sorted by
// identity.
func (w *PartialWorld) Children(id model.VarID) []model.VarID {
	if w.deps == nil {
		return scanChildren(w, id)
	}
	w.refresh()
	return w.deps.sortedChildren(id)
}

func (d *Diff) touched(id model.VarID) bool {
	if _, ok := d.set[id]; ok {
		return true
	}
	_, ok := d.removed[id]
	return ok
}

// Children lists the variables visible through the overlay whose CPD reads
// id: indexed base children the overlay left alone, plus overlay variables
// that read it now. The result is sorted by identity.
func (d *Diff) Children(id model.VarID) []model.VarID {
	if d.base.deps == nil {
		return scanChildren(d, id)
	}
	d.base.refresh()
	var out []model.VarID
	for _, c := range d.base.deps.sortedChildren(id) {
		if !d.touched(c) {
			out = append(out, c)
		}
	}
	for c, b := range d.set {
		if c != id && reads(d, b.v, id) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Affected lists the base variables the overlay did not touch whose CPD
// read a touched variable when last evaluated on the base, sorted by
// identity. These are the only untouched variables whose probability can
// differ between the base and the overlay. Without a dependency index every
// untouched base variable is listed in instantiation order.
func (d *Diff) Affected() []model.VarID {
	if d.base.deps == nil {
		var out []model.VarID
		for _, id := range d.base.Instantiated() {
			if !d.touched(id) {
				out = append(out, id)
			}
		}
		return out
	}
	d.base.refresh()
	seen := make(map[model.VarID]struct{})
	var out []model.VarID
	collect := func(id model.VarID) {
		for c := range d.base.deps.children[id] {
			if _, dup := seen[c]; dup || d.touched(c) {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	for id := range d.set {
		collect(id)
	}
	for id := range d.removed {
		collect(id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
