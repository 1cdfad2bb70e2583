package core

import (
	"fmt"
	"sort"

	"relinfer/internal/sampler"
	"relinfer/pkg/model"
)

// Plugin contributes catalogue scenarios and sampler variants.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	scenarios map[string]model.Scenario
	variants  []sampler.Variant
}

// NewPluginRegistry constructs an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{scenarios: make(map[string]model.Scenario)}
}

// RegisterScenario validates and adds a catalogue scenario.
func (r *PluginRegistry) RegisterScenario(s model.Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, exists := r.scenarios[s.Name]; exists {
		return fmt.Errorf("scenario %s already registered", s.Name)
	}
	r.scenarios[s.Name] = s
	return nil
}

// RegisterVariant adds a sampler variant. Plugin variants are tried before
// the built-in ones, in registration order.
func (r *PluginRegistry) RegisterVariant(v sampler.Variant) {
	if v == nil {
		return
	}
	r.variants = append(r.variants, v)
}

// Scenarios returns the registered scenarios ordered by name.
func (r *PluginRegistry) Scenarios() []model.Scenario {
	out := make([]model.Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Variants returns a copy of the registered variants.
func (r *PluginRegistry) Variants() []sampler.Variant {
	return append([]sampler.Variant(nil), r.variants...)
}

// PluginMetadata describes an installed plugin.
type PluginMetadata struct {
	Name      string
	Version   string
	Scenarios []string
	Variants  []string
}
