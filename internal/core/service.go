package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"relinfer/internal/checkpoint"
	"relinfer/internal/infra/persistence/memory"
	"relinfer/internal/sampler"
	"relinfer/pkg/model"
	"relinfer/pkg/runs"
)

// Service runs inference over the scenarios contributed by installed plugins
// and keeps a record of every run.
type Service struct {
	store       runs.PersistentStore
	checkpoints *checkpoint.Store
	logger      *slog.Logger
	metrics     MetricsRecorder
	tracer      Tracer
	now         func() time.Time
	newID       func() string

	mu        sync.RWMutex
	plugins   map[string]PluginMetadata
	scenarios map[string]model.Scenario
	variants  []sampler.Variant
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics recorder. Nil is ignored.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer. Nil is ignored.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithCheckpointStore enables chain checkpoints.
func WithCheckpointStore(c *checkpoint.Store) Option {
	return func(s *Service) { s.checkpoints = c }
}

// WithClock overrides the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService constructs a service backed by store.
func NewService(store runs.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:     store,
		logger:    slog.Default(),
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		now:       func() time.Time { return time.Now().UTC() },
		newID:     newRunID,
		plugins:   make(map[string]PluginMetadata),
		scenarios: make(map[string]model.Scenario),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory run store.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the run store.
func (s *Service) Store() runs.PersistentStore { return s.store }

// InstallPlugin registers a plugin's scenarios and variants.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, fmt.Errorf("register plugin %s: %w", plugin.Name(), err)
	}
	contributed := registry.Scenarios()
	for _, sc := range contributed {
		if _, exists := s.scenarios[sc.Name]; exists {
			return PluginMetadata{}, fmt.Errorf("scenario %s already provided by another plugin", sc.Name)
		}
	}

	meta := PluginMetadata{Name: plugin.Name(), Version: plugin.Version()}
	for _, sc := range contributed {
		s.scenarios[sc.Name] = sc
		meta.Scenarios = append(meta.Scenarios, sc.Name)
	}
	for _, v := range registry.Variants() {
		s.variants = append(s.variants, v)
		meta.Variants = append(meta.Variants, v.Name())
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed", "plugin", meta.Name, "version", meta.Version,
		"scenarios", len(meta.Scenarios), "variants", len(meta.Variants))
	return meta, nil
}

// RegisteredPlugins returns installed plugin metadata ordered by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Scenarios lists catalogue scenario names in order.
func (s *Service) Scenarios() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scenarios))
	for name := range s.scenarios {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Scenario looks up a catalogue scenario.
func (s *Service) Scenario(name string) (model.Scenario, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[name]
	return sc, ok
}

// ErrUnknownScenario is returned for a scenario no plugin provides.
var ErrUnknownScenario = errors.New("unknown scenario")

func (s *Service) resolve(name string) (model.Scenario, []sampler.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[name]
	if !ok {
		return model.Scenario{}, nil, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}
	variants := append([]sampler.Variant(nil), s.variants...)
	variants = append(variants, sampler.GibbsVariant{})
	return sc, variants, nil
}

// Runs lists stored runs ordered by start time.
func (s *Service) Runs() []runs.Run { return s.store.ListRuns() }

// Run returns a stored run.
func (s *Service) Run(id string) (runs.Run, error) {
	r, ok := s.store.GetRun(id)
	if !ok {
		return runs.Run{}, runs.ErrNotFound{ID: id}
	}
	return r, nil
}

// DeleteRun removes a run record and its checkpoint, if any.
func (s *Service) DeleteRun(ctx context.Context, id string) (err error) {
	ctx, finish := s.observe(ctx, "delete_run")
	defer func() { finish(err) }()
	if err := s.store.RunInTransaction(ctx, func(tx runs.Transaction) error { return tx.DeleteRun(id) }); err != nil {
		return err
	}
	if s.checkpoints != nil {
		if _, err := s.checkpoints.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete checkpoint %s: %w", id, err)
		}
	}
	return nil
}

// observe opens a span and returns a closer that ends it and records metrics.
func (s *Service) observe(ctx context.Context, operation string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	return ctx, func(err error) {
		span.End(err)
		s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
}

func (s *Service) saveRun(ctx context.Context, r runs.Run) error {
	return s.store.RunInTransaction(ctx, func(tx runs.Transaction) error { return tx.PutRun(r) })
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
