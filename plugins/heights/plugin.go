// Package heights provides a population-mean model: an unknown mean height
// with a uniform prior and Gaussian measurements around it. Its mean has a
// conjugate Gibbs update.
package heights

import (
	"relinfer/internal/core"
	"relinfer/pkg/model"
)

// ScenarioName is the catalogue name of the model with Observed measured.
const ScenarioName = "heights"

const (
	priorLo = 1.0
	priorHi = 2.5
	// measurement variance in m^2
	noise = 0.01
)

// Observed are the measured heights in metres.
var Observed = []float64{1.62, 1.75, 1.68, 1.80, 1.71}

// Plugin contributes the heights scenario.
type Plugin struct{}

// New constructs the plugin.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "heights" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register adds the scenario to the catalogue.
func (Plugin) Register(registry *core.PluginRegistry) error {
	ev := model.NewEvidence()
	for i, y := range Observed {
		ev.Observe(model.T("Height", i), y)
	}
	return registry.RegisterScenario(model.Scenario{
		Name:        ScenarioName,
		Description: "Mean height under a Uniform(1, 2.5) prior given five measurements.",
		Model:       Model(),
		Evidence:    ev,
		Queries:     []model.Term{model.T("Mean")},
	})
}

// Model builds Mean ~ Uniform(1, 2.5) and Height(i) ~ N(Mean, 0.01).
func Model() *model.Model {
	m := model.NewModel()
	m.MustAddFunction(model.RandomFunction{Name: "Mean", CPD: func(model.Context, []model.Value) (model.Distribution, error) {
		return model.NewUniformReal(priorLo, priorHi)
	}})
	m.MustAddFunction(model.RandomFunction{Name: "Height", Arity: 1, CPD: func(ctx model.Context, _ []model.Value) (model.Distribution, error) {
		return model.GaussianAround(ctx, model.T("Mean"), noise)
	}})
	return m
}
