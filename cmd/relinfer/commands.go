package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"relinfer/internal/core"
	"relinfer/pkg/model"
)

func newScenariosCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the scenarios contributed by installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd.Context(), false); err != nil {
				return err
			}
			return printScenarios(a, a.svc)
		},
	}
}

func parseBinWidths(raw map[string]string) (map[model.VarID]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[model.VarID]float64, len(raw))
	for query, w := range raw {
		width, err := strconv.ParseFloat(w, 64)
		if err != nil || width <= 0 {
			return nil, fmt.Errorf("bin width for %s must be a positive number, got %q", query, w)
		}
		out[model.VarID(query)] = width
	}
	return out, nil
}

func newLWCmd(a *app) *cobra.Command {
	var (
		samples int
		seed    uint64
		bins    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "lw <scenario>",
		Short: "Estimate query posteriors by likelihood weighting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			widths, err := parseBinWidths(bins)
			if err != nil {
				return err
			}
			if err := a.setup(cmd.Context(), false); err != nil {
				return err
			}
			run, err := a.svc.RunLikelihoodWeighting(cmd.Context(), core.LWRequest{
				Scenario: args[0],
				Samples:  samples,
				Seed:     a.seed(cmd, seed),
				BinWidth: widths,
			})
			if err != nil {
				return err
			}
			return printRun(a, run)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&samples, "samples", "n", 10000, "number of weighted samples")
	f.Uint64Var(&seed, "seed", 0, "random seed (0 picks one)")
	f.StringToStringVar(&bins, "bin", nil, "bin width per numeric query, e.g. Mean=0.05")
	return cmd
}

func newMCMCCmd(a *app) *cobra.Command {
	var (
		req  core.MCMCRequest
		bins map[string]string
	)
	cmd := &cobra.Command{
		Use:   "mcmc <scenario>",
		Short: "Estimate query posteriors with a Metropolis-Hastings or Gibbs chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			widths, err := parseBinWidths(bins)
			if err != nil {
				return err
			}
			if err := a.setup(cmd.Context(), req.Checkpoint || req.ResumeFrom != ""); err != nil {
				return err
			}
			r := req
			r.Scenario = args[0]
			r.Seed = a.seed(cmd, req.Seed)
			r.BinWidth = widths
			if !cmd.Flags().Changed("checkpoint") {
				r.Checkpoint = a.cfg.Checkpoint
			}
			run, err := a.svc.RunMCMC(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printRun(a, run)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&req.Steps, "steps", "n", 10000, "number of chain steps")
	f.IntVar(&req.BurnIn, "burn-in", 0, "steps discarded before recording")
	f.IntVar(&req.Thin, "thin", 1, "record every n-th step after burn-in")
	f.Uint64Var(&req.Seed, "seed", 0, "random seed (0 picks one)")
	f.BoolVar(&req.Gibbs, "gibbs", false, "use Gibbs updates instead of Metropolis-Hastings")
	f.BoolVar(&req.Checkpoint, "checkpoint", false, "store the final world in the checkpoint store")
	f.StringVar(&req.ResumeFrom, "resume", "", "start from the checkpoint of this run id")
	f.StringToStringVar(&bins, "bin", nil, "bin width per numeric query, e.g. Mean=0.05")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and delete stored runs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored runs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := a.setup(cmd.Context(), false); err != nil {
					return err
				}
				return printRunList(a, a.svc.Runs())
			},
		},
		&cobra.Command{
			Use:   "show <run-id>",
			Short: "Show one run's query results",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.setup(cmd.Context(), false); err != nil {
					return err
				}
				run, err := a.svc.Run(args[0])
				if err != nil {
					return err
				}
				return printRun(a, run)
			},
		},
		&cobra.Command{
			Use:   "delete <run-id>",
			Short: "Delete a run and its checkpoint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.setup(cmd.Context(), false); err != nil {
					return err
				}
				if err := a.svc.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
