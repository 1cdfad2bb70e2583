package world

import (
	"reflect"
	"testing"

	"relinfer/pkg/model"
)

// switchModel: Pick reads Switch, then A when it is true and B otherwise.
func switchModel(t *testing.T) (*model.Model, *PartialWorld) {
	t.Helper()
	m := model.NewModel()
	coin := func(model.Context, []model.Value) (model.Distribution, error) { return model.NewBernoulli(0.5) }
	m.MustAddFunction(model.RandomFunction{Name: "Switch", CPD: coin})
	m.MustAddFunction(model.RandomFunction{Name: "A", CPD: coin})
	m.MustAddFunction(model.RandomFunction{Name: "B", CPD: coin})
	m.MustAddFunction(model.RandomFunction{Name: "Pick", CPD: func(ctx model.Context, _ []model.Value) (model.Distribution, error) {
		sw, err := ctx.Value(model.T("Switch"))
		if err != nil {
			return nil, err
		}
		src := model.T("B")
		if sw.(bool) {
			src = model.T("A")
		}
		v, err := ctx.Value(src)
		if err != nil {
			return nil, err
		}
		if v.(bool) {
			return model.NewBernoulli(0.9)
		}
		return model.NewBernoulli(0.2)
	}})
	w := NewPartialWorld()
	w.Set(mustVar(t, m, model.T("Switch")), true)
	w.Set(mustVar(t, m, model.T("A")), true)
	w.Set(mustVar(t, m, model.T("B")), false)
	w.Set(mustVar(t, m, model.T("Pick")), true)
	return m, w
}

func TestDependencyIndexFollowsContingentParents(t *testing.T) {
	m, w := switchModel(t)
	if w.Tracking() || w.Parents("Pick") != nil {
		t.Fatalf("index enabled before TrackDependencies")
	}
	w.TrackDependencies()
	if !w.Tracking() || !w.Clone().Tracking() {
		t.Fatalf("tracking not enabled or lost on clone")
	}
	if got := w.Parents("Pick"); !reflect.DeepEqual(got, []model.VarID{"Switch", "A"}) {
		t.Fatalf("parents = %v", got)
	}
	if got := w.Children("B"); len(got) != 0 {
		t.Fatalf("B has children %v before the switch flips", got)
	}

	diff := NewDiff(w)
	diff.Set(mustVar(t, m, model.T("Switch")), false)
	diff.Save()
	if got := w.Parents("Pick"); !reflect.DeepEqual(got, []model.VarID{"Switch", "B"}) {
		t.Fatalf("parents after save = %v", got)
	}
	if got := w.Children("A"); len(got) != 0 {
		t.Fatalf("A kept stale children %v", got)
	}
	if got := w.Children("B"); !reflect.DeepEqual(got, []model.VarID{"Pick"}) {
		t.Fatalf("children of B = %v", got)
	}
}

func TestDiffAffectedListsOnlyReadersOfTouchedVariables(t *testing.T) {
	m, w := switchModel(t)
	untracked := NewDiff(w)
	untracked.Set(mustVar(t, m, model.T("B")), true)
	if got := untracked.Affected(); !reflect.DeepEqual(got, []model.VarID{"Switch", "A", "Pick"}) {
		t.Fatalf("untracked affected = %v", got)
	}

	w.TrackDependencies()
	diff := NewDiff(w)
	diff.Set(mustVar(t, m, model.T("B")), true)
	if got := diff.Affected(); len(got) != 0 {
		t.Fatalf("B is unread but affected = %v", got)
	}
	diff.Revert()
	diff.Set(mustVar(t, m, model.T("A")), false)
	if got := diff.Affected(); !reflect.DeepEqual(got, []model.VarID{"Pick"}) {
		t.Fatalf("affected = %v", got)
	}
	diff.Unset("Switch")
	if got := diff.Affected(); !reflect.DeepEqual(got, []model.VarID{"Pick"}) {
		t.Fatalf("affected after unset = %v", got)
	}
}

func TestDiffChildrenSeesOverlayReaders(t *testing.T) {
	m, w := switchModel(t)
	w.TrackDependencies()
	diff := NewDiff(w)
	if got := diff.Children("Switch"); !reflect.DeepEqual(got, []model.VarID{"Pick"}) {
		t.Fatalf("children = %v", got)
	}
	diff.Set(mustVar(t, m, model.T("Pick")), false)
	diff.Set(mustVar(t, m, model.T("Switch")), false)
	if got := diff.Children("B"); !reflect.DeepEqual(got, []model.VarID{"Pick"}) {
		t.Fatalf("children of B through overlay = %v", got)
	}
	if got := diff.Children("A"); len(got) != 0 {
		t.Fatalf("rewritten Pick still listed under A: %v", got)
	}
	if got, want := diff.Children("Switch"), scanChildren(diff, "Switch"); !reflect.DeepEqual(got, want) {
		t.Fatalf("indexed children %v differ from scan %v", got, want)
	}
}

func TestUnsetForgetsIndexedEdges(t *testing.T) {
	_, w := switchModel(t)
	w.TrackDependencies()
	_ = w.Children("A")
	w.Unset("Pick")
	if got := w.Children("A"); len(got) != 0 {
		t.Fatalf("removed variable still listed: %v", got)
	}
	if w.Parents("Pick") != nil {
		t.Fatalf("removed variable kept parents")
	}
}
