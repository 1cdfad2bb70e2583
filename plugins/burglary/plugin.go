// Package burglary provides the burglary alarm network: a burglary or an
// earthquake may set off an alarm, and two neighbours may call about it.
package burglary

import (
	"relinfer/internal/core"
	"relinfer/pkg/model"
)

// ScenarioName is the catalogue name of the network with both calls observed.
const ScenarioName = "burglary"

// Plugin contributes the burglary scenario.
type Plugin struct{}

// New constructs the plugin.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "burglary" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register adds the scenario to the catalogue.
func (Plugin) Register(registry *core.PluginRegistry) error {
	return registry.RegisterScenario(model.Scenario{
		Name:        ScenarioName,
		Description: "Alarm network with JohnCalls and MaryCalls observed true.",
		Model:       Model(),
		Evidence: model.NewEvidence(
			model.Observation{Term: model.T("JohnCalls"), Value: true},
			model.Observation{Term: model.T("MaryCalls"), Value: true},
		),
		Queries: []model.Term{model.T("Burglary"), model.T("Earthquake")},
	})
}

func prior(p float64) model.CPD {
	return func(model.Context, []model.Value) (model.Distribution, error) {
		return model.NewBernoulli(p)
	}
}

func readBool(ctx model.Context, name string) (bool, error) {
	v, err := ctx.Value(model.T(name))
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// alarmTable is P(Alarm | Burglary, Earthquake).
var alarmTable = map[[2]bool]float64{
	{true, true}:   0.95,
	{true, false}:  0.94,
	{false, true}:  0.29,
	{false, false}: 0.001,
}

func alarm(ctx model.Context, _ []model.Value) (model.Distribution, error) {
	b, err := readBool(ctx, "Burglary")
	if err != nil {
		return nil, err
	}
	e, err := readBool(ctx, "Earthquake")
	if err != nil {
		return nil, err
	}
	return model.NewBernoulli(alarmTable[[2]bool{b, e}])
}

func call(ifAlarm, otherwise float64) model.CPD {
	return func(ctx model.Context, _ []model.Value) (model.Distribution, error) {
		a, err := readBool(ctx, "Alarm")
		if err != nil {
			return nil, err
		}
		if a {
			return model.NewBernoulli(ifAlarm)
		}
		return model.NewBernoulli(otherwise)
	}
}

// Model builds the five-variable network.
func Model() *model.Model {
	m := model.NewModel()
	m.MustAddFunction(model.RandomFunction{Name: "Burglary", CPD: prior(0.001)})
	m.MustAddFunction(model.RandomFunction{Name: "Earthquake", CPD: prior(0.002)})
	m.MustAddFunction(model.RandomFunction{Name: "Alarm", CPD: alarm})
	m.MustAddFunction(model.RandomFunction{Name: "JohnCalls", CPD: call(0.90, 0.05)})
	m.MustAddFunction(model.RandomFunction{Name: "MaryCalls", CPD: call(0.70, 0.01)})
	return m
}
