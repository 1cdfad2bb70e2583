package world

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"relinfer/pkg/model"
)

func rainModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.NewModel()
	m.MustAddFunction(model.RandomFunction{Name: "Rain", CPD: func(model.Context, []model.Value) (model.Distribution, error) {
		return model.NewBernoulli(0.2)
	}})
	m.MustAddFunction(model.RandomFunction{Name: "Wet", CPD: func(ctx model.Context, _ []model.Value) (model.Distribution, error) {
		rain, err := ctx.Value(model.T("Rain"))
		if err != nil {
			return nil, err
		}
		if rain.(bool) {
			return model.NewBernoulli(0.9)
		}
		return model.NewBernoulli(0.1)
	}})
	return m
}

func mustVar(t *testing.T, m *model.Model, term model.Term) *model.VarWithDistrib {
	t.Helper()
	v, err := m.Var(term)
	if err != nil {
		t.Fatalf("Var(%s): %v", term, err)
	}
	return v
}

func TestPartialWorldPreservesInstantiationOrder(t *testing.T) {
	m := rainModel(t)
	w := NewPartialWorld()
	w.Set(mustVar(t, m, model.T("Wet")), true)
	w.Set(mustVar(t, m, model.T("Rain")), false)
	w.Set(mustVar(t, m, model.T("Wet")), false)
	if got := w.Instantiated(); !reflect.DeepEqual(got, []model.VarID{"Wet", "Rain"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if v, _ := w.Value("Wet"); v != false {
		t.Fatalf("expected overwrite, got %v", v)
	}
	w.Unset("Wet")
	if w.Len() != 1 {
		t.Fatalf("expected one binding after unset, got %d", w.Len())
	}
}

func TestDiffIsolatesWritesUntilSave(t *testing.T) {
	m := rainModel(t)
	base := NewPartialWorld()
	base.Set(mustVar(t, m, model.T("Rain")), true)

	d := NewDiff(base)
	d.Set(mustVar(t, m, model.T("Rain")), false)
	d.Set(mustVar(t, m, model.T("Wet")), true)

	if v, _ := base.Value("Rain"); v != true {
		t.Fatalf("base mutated before save")
	}
	if _, ok := base.Value("Wet"); ok {
		t.Fatalf("base gained a variable before save")
	}
	if v, _ := d.Value("Rain"); v != false {
		t.Fatalf("diff should read its own write")
	}
	if d.Len() != 2 {
		t.Fatalf("diff len = %d, want 2", d.Len())
	}
	if got := d.Touched(); !reflect.DeepEqual(got, []model.VarID{"Rain", "Wet"}) {
		t.Fatalf("unexpected touched set %v", got)
	}

	d.Save()
	if d.Dirty() {
		t.Fatalf("save should clear the overlay")
	}
	if v, _ := base.Value("Rain"); v != false {
		t.Fatalf("save did not reach base")
	}
	if got := base.Instantiated(); !reflect.DeepEqual(got, []model.VarID{"Rain", "Wet"}) {
		t.Fatalf("unexpected order after save %v", got)
	}
}

func TestDiffRevertLeavesBaseUntouched(t *testing.T) {
	m := rainModel(t)
	base := NewPartialWorld()
	base.Set(mustVar(t, m, model.T("Rain")), true)
	base.Set(mustVar(t, m, model.T("Wet")), true)
	before, err := base.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	d := NewDiff(base)
	d.Unset("Wet")
	d.Set(mustVar(t, m, model.T("Rain")), false)
	if _, ok := d.Value("Wet"); ok {
		t.Fatalf("unset should hide the base value")
	}
	if d.Len() != 1 {
		t.Fatalf("diff len = %d, want 1", d.Len())
	}
	d.Revert()

	after, err := base.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("revert mutated base")
	}
	if v, _ := d.Value("Wet"); v != true {
		t.Fatalf("diff should read base after revert")
	}
}

func TestDiffUnsetThenSetRestoresVisibility(t *testing.T) {
	m := rainModel(t)
	base := NewPartialWorld()
	base.Set(mustVar(t, m, model.T("Rain")), true)
	d := NewDiff(base)
	d.Unset("Rain")
	d.Set(mustVar(t, m, model.T("Rain")), false)
	if v, ok := d.Value("Rain"); !ok || v != false {
		t.Fatalf("expected re-set value, got %v %v", v, ok)
	}
	d.Save()
	if v, _ := base.Value("Rain"); v != false {
		t.Fatalf("expected saved value false, got %v", v)
	}
}

func TestReadContextReportsMissingParents(t *testing.T) {
	m := rainModel(t)
	w := NewPartialWorld()
	w.Set(mustVar(t, m, model.T("Wet")), true)
	if _, err := LogProbOfValue(w, "Wet"); !errors.Is(err, model.ErrNotSelfSupporting) {
		t.Fatalf("expected not self-supporting, got %v", err)
	}
	if err := SelfSupporting(w); !errors.Is(err, model.ErrNotSelfSupporting) {
		t.Fatalf("expected self-support violation, got %v", err)
	}
	if _, err := LogProbOfValue(w, "Rain"); !errors.Is(err, ErrNotInstantiated) {
		t.Fatalf("expected not instantiated, got %v", err)
	}
}

func TestProbabilitiesAndOverrides(t *testing.T) {
	m := rainModel(t)
	w := NewPartialWorld()
	w.Set(mustVar(t, m, model.T("Rain")), true)
	w.Set(mustVar(t, m, model.T("Wet")), true)

	p, err := ProbOfValue(w, "Wet")
	if err != nil {
		t.Fatalf("ProbOfValue: %v", err)
	}
	if math.Abs(p-0.9) > 1e-12 {
		t.Fatalf("P(Wet) = %v, want 0.9", p)
	}
	joint, err := LogProb(w)
	if err != nil {
		t.Fatalf("LogProb: %v", err)
	}
	if math.Abs(joint-math.Log(0.2*0.9)) > 1e-12 {
		t.Fatalf("joint = %v", math.Exp(joint))
	}

	ctx := NewReadContext(w).With("Rain", false)
	d, err := mustVar(t, m, model.T("Wet")).Distrib(ctx)
	if err != nil {
		t.Fatalf("Distrib: %v", err)
	}
	if math.Abs(d.Prob(true)-0.1) > 1e-12 {
		t.Fatalf("override ignored")
	}
	if got := ctx.Accessed(); !reflect.DeepEqual(got, []model.VarID{"Rain"}) {
		t.Fatalf("accessed = %v", got)
	}
}

func TestSnapshotRoundTripPreservesOrderAndTypes(t *testing.T) {
	m := model.NewModel()
	m.MustAddFunction(model.RandomFunction{Name: "Count", Arity: 1, CPD: func(model.Context, []model.Value) (model.Distribution, error) {
		return model.NewPoisson(2)
	}})
	m.MustAddFunction(model.RandomFunction{Name: "Height", Arity: 1, CPD: func(model.Context, []model.Value) (model.Distribution, error) {
		return model.NewUniformReal(0, 10)
	}})
	w := NewPartialWorld()
	w.Set(mustVar(t, m, model.T("Height", "ann")), 4.5)
	w.Set(mustVar(t, m, model.T("Count", 3)), 2)

	snap, err := w.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	restored, err := FromSnapshot(m, snap)
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	if got := restored.Instantiated(); !reflect.DeepEqual(got, w.Instantiated()) {
		t.Fatalf("order changed: %v", got)
	}
	if v, _ := restored.Value("Count(3)"); v != 2 {
		t.Fatalf("int value not preserved: %v (%T)", v, v)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := rainModel(t)
	w := NewPartialWorld()
	w.Set(mustVar(t, m, model.T("Rain")), true)
	cp := w.Clone()
	cp.Set(mustVar(t, m, model.T("Rain")), false)
	if v, _ := w.Value("Rain"); v != true {
		t.Fatalf("clone shares state with original")
	}
}
