package heights

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"relinfer/internal/core"
	"relinfer/pkg/runs"
)

func newService(t *testing.T) *core.Service {
	t.Helper()
	svc := core.NewInMemoryService(core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if _, err := svc.InstallPlugin(New()); err != nil {
		t.Fatalf("install: %v", err)
	}
	return svc
}

func sampleMean() float64 {
	total := 0.0
	for _, y := range Observed {
		total += y
	}
	return total / float64(len(Observed))
}

func TestGibbsPosteriorMean(t *testing.T) {
	svc := newService(t)
	run, err := svc.RunMCMC(context.Background(), core.MCMCRequest{Scenario: ScenarioName, Steps: 2000, BurnIn: 10, Seed: 5, Gibbs: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Algorithm != runs.AlgorithmGibbs || run.Stats.Rejected != 0 {
		t.Fatalf("gibbs run should accept every proposal: %+v", run.Stats)
	}
	q, _ := run.Query("Mean")
	if q.Mean == nil || math.Abs(*q.Mean-sampleMean()) > 0.01 {
		t.Fatalf("posterior mean %v, want ~%.3f", q.Mean, sampleMean())
	}
}

func TestMetropolisHastingsAgreesWithGibbs(t *testing.T) {
	svc := newService(t)
	run, err := svc.RunMCMC(context.Background(), core.MCMCRequest{Scenario: ScenarioName, Steps: 20000, BurnIn: 500, Seed: 8})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	q, _ := run.Query("Mean")
	if q.Mean == nil || math.Abs(*q.Mean-sampleMean()) > 0.02 {
		t.Fatalf("posterior mean %v, want ~%.3f", q.Mean, sampleMean())
	}
}
