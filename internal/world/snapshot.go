package world

import (
	"fmt"

	"relinfer/pkg/model"
)

// SnapshotBinding is one encoded assignment.
type SnapshotBinding struct {
	Term  model.EncodedTerm  `json:"term"`
	Value model.EncodedValue `json:"value"`
}

// Snapshot is a serialisable copy of a partial world in instantiation order.
type Snapshot struct {
	Bindings []SnapshotBinding `json:"bindings"`
}

// Snapshot encodes the committed world.
func (w *PartialWorld) Snapshot() (Snapshot, error) {
	ids := w.Instantiated()
	out := Snapshot{Bindings: make([]SnapshotBinding, 0, len(ids))}
	for _, id := range ids {
		b := w.bindings[id]
		term, err := model.EncodeTerm(b.v.Term())
		if err != nil {
			return Snapshot{}, err
		}
		val, err := model.EncodeValue(b.val)
		if err != nil {
			return Snapshot{}, fmt.Errorf("encode %s: %w", id, err)
		}
		out.Bindings = append(out.Bindings, SnapshotBinding{Term: term, Value: val})
	}
	return out, nil
}

// FromSnapshot rebuilds a world against m, preserving instantiation order.
func FromSnapshot(m *model.Model, s Snapshot) (*PartialWorld, error) {
	w := NewPartialWorld()
	for _, b := range s.Bindings {
		term, err := b.Term.Decode()
		if err != nil {
			return nil, err
		}
		v, err := m.Var(term)
		if err != nil {
			return nil, err
		}
		val, err := b.Value.Decode()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", v.ID(), err)
		}
		w.Set(v, val)
	}
	return w, nil
}
