package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"relinfer/internal/config"
	"relinfer/internal/core"
	"relinfer/pkg/runs"
	"relinfer/plugins/burglary"
	"relinfer/plugins/heights"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	envFile    string
	json       bool
	trace      string
	metrics    bool
}

// app holds what a subcommand needs once configuration is resolved.
type app struct {
	flags   *globalFlags
	stdout  io.Writer
	stderr  io.Writer
	cfg     config.Config
	logger  *slog.Logger
	svc     *core.Service
	store   runs.PersistentStore
	metrics *prometheus.Registry
}

type closer interface{ Close() error }

func (a *app) setup(ctx context.Context, withCheckpoints bool) error {
	cfg, err := config.Load(config.Options{File: a.flags.configFile, EnvFile: a.flags.envFile})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := cfg.Log.NewLogger(a.stderr)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger

	store, err := core.OpenPersistentStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	a.store = store

	a.metrics = prometheus.NewRegistry()
	rec, err := core.NewPrometheusMetricsRecorder(a.metrics)
	if err != nil {
		return err
	}
	opts := []core.Option{core.WithLogger(logger), core.WithMetricsRecorder(rec)}
	switch a.flags.trace {
	case "", "none":
	case "json":
		opts = append(opts, core.WithTracer(core.NewJSONTracer(a.stderr)))
	case "otel":
		opts = append(opts, core.WithTracer(core.NewOTelTracer(nil)))
	default:
		return fmt.Errorf("unknown tracer %q (want none, json or otel)", a.flags.trace)
	}
	if withCheckpoints || cfg.Checkpoint {
		cps, err := core.OpenCheckpointStore(ctx, cfg.Blob)
		if err != nil {
			return err
		}
		opts = append(opts, core.WithCheckpointStore(cps))
	}

	a.svc = core.NewService(store, opts...)
	for _, p := range []core.Plugin{burglary.New(), heights.New()} {
		if _, err := a.svc.InstallPlugin(p); err != nil {
			return err
		}
	}
	logger.Debug("service ready", "storage", cfg.Storage.Driver, "blob", cfg.Blob.Driver)
	return nil
}

func (a *app) teardown() error {
	if a.metrics != nil && a.flags.metrics {
		families, err := a.metrics.Gather()
		if err != nil {
			return err
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(a.stderr, mf); err != nil {
				return err
			}
		}
	}
	if c, ok := a.store.(closer); ok {
		return c.Close()
	}
	return nil
}

// seed prefers an explicit flag, then the configured default.
func (a *app) seed(cmd *cobra.Command, flag uint64) uint64 {
	if cmd.Flags().Changed("seed") {
		return flag
	}
	return a.cfg.Seed
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{flags: &globalFlags{}, stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "relinfer",
		Short:         "Approximate inference over open-universe probabilistic models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configFile, "config", "", "YAML configuration file (default $"+config.EnvConfigFile+")")
	pf.StringVar(&a.flags.envFile, "env-file", "", "dotenv file to load (default .env)")
	pf.BoolVar(&a.flags.json, "json", false, "print results as JSON")
	pf.StringVar(&a.flags.trace, "trace", "none", "span exporter: none, json or otel")
	pf.BoolVar(&a.flags.metrics, "metrics", false, "dump Prometheus metrics to stderr on exit")

	root.AddCommand(newScenariosCmd(a), newLWCmd(a), newMCMCCmd(a), newRunsCmd(a))
	return root
}
