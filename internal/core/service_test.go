package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"relinfer/internal/blob"
	"relinfer/internal/checkpoint"
	"relinfer/internal/sampler"
	"relinfer/pkg/model"
	"relinfer/pkg/runs"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// rainPlugin contributes Rain -> Wet with Wet observed; P(Rain | Wet) = 0.18/0.26.
type rainPlugin struct {
	name     string
	scenario string
	variant  sampler.Variant
	fail     error
}

func (p rainPlugin) Name() string    { return p.name }
func (p rainPlugin) Version() string { return "1.0.0" }

func (p rainPlugin) Register(r *PluginRegistry) error {
	if p.fail != nil {
		return p.fail
	}
	m := model.NewModel()
	m.MustAddFunction(model.RandomFunction{Name: "Rain", CPD: func(model.Context, []model.Value) (model.Distribution, error) {
		return model.NewBernoulli(0.2)
	}})
	m.MustAddFunction(model.RandomFunction{Name: "Wet", CPD: func(ctx model.Context, _ []model.Value) (model.Distribution, error) {
		v, err := ctx.Value(model.T("Rain"))
		if err != nil {
			return nil, err
		}
		if v.(bool) {
			return model.NewBernoulli(0.9)
		}
		return model.NewBernoulli(0.1)
	}})
	r.RegisterVariant(p.variant)
	return r.RegisterScenario(model.Scenario{
		Name:     p.scenario,
		Model:    m,
		Evidence: model.NewEvidence(model.Observation{Term: model.T("Wet"), Value: true}),
		Queries:  []model.Term{model.T("Rain")},
	})
}

func newRainService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc := NewInMemoryService(append([]Option{WithLogger(quietLogger())}, opts...)...)
	if _, err := svc.InstallPlugin(rainPlugin{name: "rain", scenario: "rain"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	return svc
}

const rainPosterior = 0.18 / 0.26

// childFirstPlugin contributes Parent -> Child, queried on Child, and a
// variant that samples Child by resolving Parent through its Env. With
// cyclic set, Parent also reads Child.
type childFirstPlugin struct {
	cyclic bool
	used   *int
}

func (p childFirstPlugin) Name() string    { return "child-first" }
func (p childFirstPlugin) Version() string { return "0.1.0" }

func (p childFirstPlugin) Register(r *PluginRegistry) error {
	m := model.NewModel()
	m.MustAddFunction(model.RandomFunction{Name: "Parent", CPD: func(ctx model.Context, _ []model.Value) (model.Distribution, error) {
		if p.cyclic {
			if _, err := ctx.Value(model.T("Child")); err != nil {
				return nil, err
			}
		}
		return model.NewBernoulli(0.3)
	}})
	m.MustAddFunction(model.RandomFunction{Name: "Child", CPD: func(ctx model.Context, _ []model.Value) (model.Distribution, error) {
		v, err := ctx.Value(model.T("Parent"))
		if err != nil {
			return nil, err
		}
		if v.(bool) {
			return model.NewBernoulli(0.9)
		}
		return model.NewBernoulli(0.2)
	}})
	r.RegisterVariant(childFirstVariant{used: p.used})
	return r.RegisterScenario(model.Scenario{
		Name:     "child-first",
		Model:    m,
		Evidence: model.NewEvidence(),
		Queries:  []model.Term{model.T("Child")},
	})
}

type childFirstVariant struct{ used *int }

func (childFirstVariant) Name() string { return "child-first" }

func (childFirstVariant) Applies(seed *model.VarWithDistrib, env sampler.Env) bool {
	return seed.ID() == "Child" && (env.Excluded == nil || !env.Excluded.Contains(seed.ID()))
}

func (v childFirstVariant) New(seed *model.VarWithDistrib, env sampler.Env) (sampler.Sampler, error) {
	return &childFirstSampler{seed: seed, env: env, used: v.used}, nil
}

// childFirstSampler draws its seed from the prior like the parents variant,
// but does so through the exported Env context.
type childFirstSampler struct {
	seed  *model.VarWithDistrib
	env   sampler.Env
	block []model.VarID
	used  *int
}

func (s *childFirstSampler) Seed() *model.VarWithDistrib { return s.seed }
func (s *childFirstSampler) Block() []model.VarID        { return s.block }

func (s *childFirstSampler) Sample() (sampler.Result, error) {
	*s.used++
	ctx := s.env.Context()
	d, err := s.seed.Distrib(ctx)
	if err != nil {
		return sampler.Result{}, err
	}
	w := ctx.World()
	w.Set(s.seed, d.Sample(s.env.Rng))
	s.env.World = w
	s.block = append(ctx.Instantiated(), s.seed.ID())
	return sampler.Result{World: w, LogWeight: ctx.LogWeight()}, nil
}

func (s *childFirstSampler) Measure() (sampler.Result, error) {
	return sampler.Result{World: s.env.World}, nil
}

func (s *childFirstSampler) Unsample() (sampler.Result, error) {
	for _, id := range s.block {
		s.env.World.Unset(id)
	}
	return sampler.Result{World: s.env.World}, nil
}

func TestInstallPlugin(t *testing.T) {
	svc := NewInMemoryService(WithLogger(quietLogger()))
	if _, err := svc.InstallPlugin(nil); err == nil {
		t.Fatalf("expected nil plugin error")
	}
	meta, err := svc.InstallPlugin(rainPlugin{name: "rain", scenario: "rain", variant: sampler.GibbsVariant{}})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if meta.Version != "1.0.0" || len(meta.Scenarios) != 1 || len(meta.Variants) != 1 || meta.Variants[0] != "gibbs" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if _, err := svc.InstallPlugin(rainPlugin{name: "rain", scenario: "other"}); err == nil {
		t.Fatalf("expected duplicate plugin error")
	}
	if _, err := svc.InstallPlugin(rainPlugin{name: "rain2", scenario: "rain"}); err == nil {
		t.Fatalf("expected duplicate scenario error")
	}
	boom := errors.New("boom")
	if _, err := svc.InstallPlugin(rainPlugin{name: "broken", fail: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected register error, got %v", err)
	}
	if _, err := svc.InstallPlugin(rainPlugin{name: "anon", scenario: ""}); err == nil {
		t.Fatalf("expected invalid scenario error")
	}
	if got := svc.Scenarios(); len(got) != 1 || got[0] != "rain" {
		t.Fatalf("unexpected scenarios %v", got)
	}
	if plugins := svc.RegisteredPlugins(); len(plugins) != 1 || plugins[0].Name != "rain" {
		t.Fatalf("failed installs must not be recorded: %+v", plugins)
	}
	if _, ok := svc.Scenario("rain"); !ok {
		t.Fatalf("scenario lookup failed")
	}
}

func TestPluginVariantInstantiatesAncestorsThroughEnv(t *testing.T) {
	used := 0
	svc := NewInMemoryService(WithLogger(quietLogger()))
	if _, err := svc.InstallPlugin(childFirstPlugin{used: &used}); err != nil {
		t.Fatalf("install: %v", err)
	}
	run, err := svc.RunLikelihoodWeighting(context.Background(), LWRequest{Scenario: "child-first", Samples: 20000, Seed: 4})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if used != 20000 {
		t.Fatalf("plugin variant sampled %d times, want 20000", used)
	}
	q, _ := run.Query("Child")
	if got, want := q.Probability(true), 0.3*0.9+0.7*0.2; math.Abs(got-want) > 0.02 {
		t.Fatalf("P(Child) = %.3f, want ~%.3f", got, want)
	}
}

func TestPluginVariantReportsCyclesThroughEnv(t *testing.T) {
	used := 0
	svc := NewInMemoryService(WithLogger(quietLogger()))
	if _, err := svc.InstallPlugin(childFirstPlugin{cyclic: true, used: &used}); err != nil {
		t.Fatalf("install: %v", err)
	}
	_, err := svc.RunLikelihoodWeighting(context.Background(), LWRequest{Scenario: "child-first", Samples: 10, Seed: 4})
	if !errors.Is(err, model.ErrCyclicDependency) {
		t.Fatalf("expected cyclic dependency, got %v", err)
	}
	var mde *model.ModelDefinitionError
	if !errors.As(err, &mde) || mde.Var != "Child" {
		t.Fatalf("expected the cycle to close on Child, got %v", err)
	}
}

func TestRunLikelihoodWeightingStoresRun(t *testing.T) {
	tracer := NewJSONTracer(nil)
	metrics := NewExpvarMetricsRecorder("")
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := newRainService(t, WithTracer(tracer), WithMetricsRecorder(metrics),
		WithClock(func() time.Time { return fixed }), WithIDGenerator(func() string { return "lw-1" }))

	run, err := svc.RunLikelihoodWeighting(context.Background(), LWRequest{Scenario: "rain", Samples: 20000, Seed: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.ID != "lw-1" || run.Seed != 3 || !run.StartedAt.Equal(fixed) || run.Algorithm != runs.AlgorithmLikelihoodWeighting {
		t.Fatalf("unexpected run header %+v", run)
	}
	q, _ := run.Query("Rain")
	if got := q.Probability(true); math.Abs(got-rainPosterior) > 0.03 {
		t.Fatalf("P(Rain | Wet) = %.3f, want ~%.3f", got, rainPosterior)
	}
	if run.LogEvidence == nil || math.Abs(math.Exp(*run.LogEvidence)-0.26) > 0.02 {
		t.Fatalf("unexpected evidence %v", run.LogEvidence)
	}
	stored, err := svc.Run("lw-1")
	if err != nil || stored.Samples != 20000 {
		t.Fatalf("stored run: %+v %v", stored, err)
	}
	if entries := tracer.Entries(); len(entries) != 1 || entries[0].Operation != "run_likelihood_weighting" || entries[0].Status != "success" {
		t.Fatalf("unexpected spans %+v", entries)
	}
	if snap := metrics.Snapshot(); snap.Results["run_likelihood_weighting"]["success"] != 1 {
		t.Fatalf("unexpected metrics %+v", snap)
	}
}

func TestRunErrorsAreTracedAndTyped(t *testing.T) {
	tracer := NewJSONTracer(nil)
	svc := newRainService(t, WithTracer(tracer))
	ctx := context.Background()
	if _, err := svc.RunLikelihoodWeighting(ctx, LWRequest{Scenario: "missing", Samples: 1}); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("expected ErrUnknownScenario, got %v", err)
	}
	if _, err := svc.RunLikelihoodWeighting(ctx, LWRequest{Scenario: "rain"}); err == nil {
		t.Fatalf("expected sample count error")
	}
	if _, err := svc.RunMCMC(ctx, MCMCRequest{Scenario: "rain"}); err == nil {
		t.Fatalf("expected step count error")
	}
	if _, err := svc.RunMCMC(ctx, MCMCRequest{Scenario: "rain", Steps: 10, Checkpoint: true}); err == nil {
		t.Fatalf("expected missing checkpoint store error")
	}
	for _, e := range tracer.Entries() {
		if e.Status != "error" || e.Error == "" {
			t.Fatalf("expected error span, got %+v", e)
		}
	}
	var nf runs.ErrNotFound
	if _, err := svc.Run("nope"); !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := svc.RunMCMC(cancelled, MCMCRequest{Scenario: "rain", Steps: 10}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(svc.Runs()) != 0 {
		t.Fatalf("failed runs must not be stored")
	}
}

func TestRunMCMCCheckpointAndResume(t *testing.T) {
	cps := checkpoint.New(blob.NewMemory())
	ids := []string{"first", "second", "third"}
	next := 0
	svc := newRainService(t, WithCheckpointStore(cps), WithIDGenerator(func() string {
		id := ids[next]
		next++
		return id
	}))
	ctx := context.Background()
	first, err := svc.RunMCMC(ctx, MCMCRequest{Scenario: "rain", Steps: 20000, BurnIn: 100, Seed: 9, Checkpoint: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if first.Checkpoint != checkpoint.Key("first") || first.Stats == nil || first.Stats.Steps != 20000 {
		t.Fatalf("unexpected run %+v", first)
	}
	q, _ := first.Query("Rain")
	if got := q.Probability(true); math.Abs(got-rainPosterior) > 0.03 {
		t.Fatalf("P(Rain | Wet) = %.3f, want ~%.3f", got, rainPosterior)
	}

	second, err := svc.RunMCMC(ctx, MCMCRequest{Scenario: "rain", Steps: 100, Seed: 10, ResumeFrom: "first"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.Checkpoint != "" || second.Stats.Steps != 100 {
		t.Fatalf("unexpected resumed run %+v", second)
	}
	if _, err := svc.RunMCMC(ctx, MCMCRequest{Scenario: "rain", Steps: 1, ResumeFrom: "ghost"}); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("expected missing checkpoint, got %v", err)
	}

	if err := svc.DeleteRun(ctx, "first"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cps.Load(ctx, "first"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("checkpoint should be removed with its run, got %v", err)
	}
	if got := len(svc.Runs()); got != 1 {
		t.Fatalf("expected one remaining run, got %d", got)
	}
}

func TestResumeRejectsForeignScenario(t *testing.T) {
	cps := checkpoint.New(blob.NewMemory())
	svc := newRainService(t, WithCheckpointStore(cps))
	if _, err := cps.Save(context.Background(), checkpoint.Checkpoint{RunID: "x", Scenario: "other"}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	_, err := svc.RunMCMC(context.Background(), MCMCRequest{Scenario: "rain", Steps: 1, ResumeFrom: "x"})
	if err == nil || !strings.Contains(err.Error(), "belongs to scenario other") {
		t.Fatalf("expected scenario mismatch, got %v", err)
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "op")
	span.End(fmt.Errorf("bad"))
	if !strings.Contains(buf.String(), `"status":"error"`) || !strings.Contains(buf.String(), `"error":"bad"`) {
		t.Fatalf("unexpected trace output %q", buf.String())
	}
}

func TestExpvarRecorderTracksChains(t *testing.T) {
	rec := NewExpvarMetricsRecorder("relinfer_test_chain_metrics")
	if rec.Name() != "relinfer_test_chain_metrics" {
		t.Fatalf("unexpected name %s", rec.Name())
	}
	rec.Observe(context.Background(), "", true, time.Second)
	rec.ObserveChain(context.Background(), "rain", runs.Stats{Steps: 3, Accepted: 2, Rejected: 1})
	snap := rec.Snapshot()
	if len(snap.Results) != 0 {
		t.Fatalf("empty operations must be ignored")
	}
	if snap.Proposals["rain"]["accepted"] != 2 || snap.Proposals["rain"]["rejected"] != 1 {
		t.Fatalf("unexpected proposals %+v", snap.Proposals)
	}
}
