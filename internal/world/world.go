// Package world provides the partial-world assignment store and its
// copy-on-write overlay used for speculative MCMC proposals.
package world

import (
	"errors"
	"fmt"
	"sort"

	"relinfer/pkg/model"
)

// ErrNotInstantiated is returned when a probability is requested for a
// variable that has no value in the world.
var ErrNotInstantiated = errors.New("variable not instantiated")

// World is a mutable assignment of values to a subset of a model's random
// variables. It is pure storage: callers keep it self-supporting.
type World interface {
	Value(id model.VarID) (model.Value, bool)
	Var(id model.VarID) (*model.VarWithDistrib, bool)
	Set(v *model.VarWithDistrib, val model.Value)
	Unset(id model.VarID)
	// Instantiated lists instantiated variables in instantiation order.
	Instantiated() []model.VarID
	Len() int
}

// Compile-time contract assertions.
var (
	_ World = (*PartialWorld)(nil)
	_ World = (*Diff)(nil)
)

type binding struct {
	v   *model.VarWithDistrib
	val model.Value
	seq uint64
}

// PartialWorld is the committed assignment store. It optionally keeps a
// dependency index, see TrackDependencies.
type PartialWorld struct {
	bindings map[model.VarID]binding
	next     uint64
	deps     *deps
}

// NewPartialWorld constructs an empty world.
func NewPartialWorld() *PartialWorld {
	return &PartialWorld{bindings: make(map[model.VarID]binding)}
}

// Value returns the value of id, if instantiated.
func (w *PartialWorld) Value(id model.VarID) (model.Value, bool) {
	b, ok := w.bindings[id]
	return b.val, ok
}

// Var returns the instantiated variable object for id.
func (w *PartialWorld) Var(id model.VarID) (*model.VarWithDistrib, bool) {
	b, ok := w.bindings[id]
	return b.v, ok
}

// Set assigns val to v. Re-assigning keeps the original instantiation order.
func (w *PartialWorld) Set(v *model.VarWithDistrib, val model.Value) {
	id := v.ID()
	if w.deps != nil {
		w.deps.invalidate(id)
	}
	if existing, ok := w.bindings[id]; ok {
		existing.val = val
		w.bindings[id] = existing
		return
	}
	w.bindings[id] = binding{v: v, val: val, seq: w.next}
	w.next++
}

// Unset removes id from the world.
func (w *PartialWorld) Unset(id model.VarID) {
	if w.deps != nil {
		w.deps.invalidate(id)
	}
	delete(w.bindings, id)
}

// Instantiated lists the instantiated variables in instantiation order.
func (w *PartialWorld) Instantiated() []model.VarID {
	return orderBindings(w.bindings, nil, nil)
}

// Len returns the number of instantiated variables.
func (w *PartialWorld) Len() int { return len(w.bindings) }

// Clone returns an independent copy of the world. A tracking world yields a
// tracking clone whose index is rebuilt on first use.
func (w *PartialWorld) Clone() *PartialWorld {
	cp := &PartialWorld{bindings: make(map[model.VarID]binding, len(w.bindings)), next: w.next}
	for id, b := range w.bindings {
		cp.bindings[id] = b
	}
	if w.deps != nil {
		cp.TrackDependencies()
	}
	return cp
}

func orderBindings(base map[model.VarID]binding, overlay map[model.VarID]binding, removed map[model.VarID]struct{}) []model.VarID {
	type entry struct {
		id  model.VarID
		seq uint64
	}
	entries := make([]entry, 0, len(base)+len(overlay))
	for id, b := range base {
		if _, gone := removed[id]; gone {
			continue
		}
		if _, shadowed := overlay[id]; shadowed {
			continue
		}
		entries = append(entries, entry{id: id, seq: b.seq})
	}
	for id, b := range overlay {
		entries = append(entries, entry{id: id, seq: b.seq})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].seq == entries[j].seq {
			return entries[i].id < entries[j].id
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]model.VarID, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}

// Diff is a copy-on-write overlay over a PartialWorld. Reads fall through to
// the base; writes stay local until Save. Dropping a Diff (or calling Revert)
// leaves the base untouched.
type Diff struct {
	base    *PartialWorld
	set     map[model.VarID]binding
	removed map[model.VarID]struct{}
	next    uint64
}

// NewDiff wraps base without taking ownership of it.
func NewDiff(base *PartialWorld) *Diff {
	return &Diff{
		base:    base,
		set:     make(map[model.VarID]binding),
		removed: make(map[model.VarID]struct{}),
		next:    base.next,
	}
}

// Base returns the underlying committed world.
func (d *Diff) Base() *PartialWorld { return d.base }

func (d *Diff) lookup(id model.VarID) (binding, bool) {
	if b, ok := d.set[id]; ok {
		return b, true
	}
	if _, gone := d.removed[id]; gone {
		return binding{}, false
	}
	b, ok := d.base.bindings[id]
	return b, ok
}

// Value returns the value visible through the overlay.
func (d *Diff) Value(id model.VarID) (model.Value, bool) {
	b, ok := d.lookup(id)
	return b.val, ok
}

// Var returns the variable object visible through the overlay.
func (d *Diff) Var(id model.VarID) (*model.VarWithDistrib, bool) {
	b, ok := d.lookup(id)
	return b.v, ok
}

// Set records a local assignment.
func (d *Diff) Set(v *model.VarWithDistrib, val model.Value) {
	id := v.ID()
	b, ok := d.lookup(id)
	if !ok {
		b = binding{v: v, seq: d.next}
		d.next++
	}
	b.val = val
	delete(d.removed, id)
	d.set[id] = b
}

// Unset records a local removal.
func (d *Diff) Unset(id model.VarID) {
	delete(d.set, id)
	if _, ok := d.base.bindings[id]; ok {
		d.removed[id] = struct{}{}
	}
}

// Instantiated lists the variables visible through the overlay in
// instantiation order.
func (d *Diff) Instantiated() []model.VarID {
	return orderBindings(d.base.bindings, d.set, d.removed)
}

// Len returns the number of variables visible through the overlay.
func (d *Diff) Len() int {
	n := len(d.base.bindings)
	for id := range d.set {
		if _, inBase := d.base.bindings[id]; !inBase {
			n++
		}
	}
	return n - len(d.removed)
}

// Touched lists the variables written or removed through the overlay, sorted
// by identity.
func (d *Diff) Touched() []model.VarID {
	out := make([]model.VarID, 0, len(d.set)+len(d.removed))
	for id := range d.set {
		out = append(out, id)
	}
	for id := range d.removed {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dirty reports whether the overlay holds any change.
func (d *Diff) Dirty() bool { return len(d.set) > 0 || len(d.removed) > 0 }

// Save folds the overlay into the base, which becomes the new committed
// world, and clears the overlay. Cost is proportional to the touched set;
// the base's dependency index re-reads touched variables and their children
// on its next lookup.
func (d *Diff) Save() {
	for id := range d.removed {
		if d.base.deps != nil {
			d.base.deps.invalidate(id)
		}
		delete(d.base.bindings, id)
	}
	for id, b := range d.set {
		if d.base.deps != nil {
			d.base.deps.invalidate(id)
		}
		d.base.bindings[id] = b
	}
	if d.next > d.base.next {
		d.base.next = d.next
	}
	d.reset()
}

// Revert discards the overlay.
func (d *Diff) Revert() { d.reset() }

func (d *Diff) reset() {
	d.set = make(map[model.VarID]binding)
	d.removed = make(map[model.VarID]struct{})
	d.next = d.base.next
}

// String summarises the overlay for logs.
func (d *Diff) String() string {
	return fmt.Sprintf("diff{set=%d removed=%d base=%d}", len(d.set), len(d.removed), len(d.base.bindings))
}
