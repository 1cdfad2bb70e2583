package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"relinfer/internal/core"
	"relinfer/pkg/model"
	"relinfer/pkg/runs"
)

func printJSON(a *app, v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printScenarios(a *app, svc *core.Service) error {
	names := svc.Scenarios()
	if a.flags.json {
		type entry struct {
			Name        string   `json:"name"`
			Description string   `json:"description,omitempty"`
			Queries     []string `json:"queries"`
		}
		out := make([]entry, 0, len(names))
		for _, name := range names {
			sc, _ := svc.Scenario(name)
			e := entry{Name: name, Description: sc.Description}
			for _, q := range sc.Queries {
				e.Queries = append(e.Queries, q.String())
			}
			out = append(out, e)
		}
		return printJSON(a, out)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tQUERIES\tDESCRIPTION")
	for _, name := range names {
		sc, _ := svc.Scenario(name)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(sc.Queries), sc.Description)
	}
	return tw.Flush()
}

func formatBin(b runs.Bin) string {
	v, err := b.Value.Decode()
	if err != nil {
		return "?"
	}
	return model.FormatValue(v)
}

func printRun(a *app, run runs.Run) error {
	if a.flags.json {
		return printJSON(a, run)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", run.ID)
	fmt.Fprintf(tw, "scenario\t%s\n", run.Scenario)
	fmt.Fprintf(tw, "algorithm\t%s\n", run.Algorithm)
	fmt.Fprintf(tw, "samples\t%d\n", run.Samples)
	fmt.Fprintf(tw, "seed\t%d\n", run.Seed)
	fmt.Fprintf(tw, "duration\t%s\n", run.Duration().Round(time.Millisecond))
	if run.LogEvidence != nil {
		fmt.Fprintf(tw, "log evidence\t%.6g\n", *run.LogEvidence)
	}
	if run.Stats != nil {
		fmt.Fprintf(tw, "acceptance\t%.4f (%d/%d)\n", run.Stats.AcceptanceRate(), run.Stats.Accepted, run.Stats.Steps)
	}
	if run.Checkpoint != "" {
		fmt.Fprintf(tw, "checkpoint\t%s\n", run.Checkpoint)
	}
	for _, q := range run.Queries {
		fmt.Fprintf(tw, "\n%s\t\n", q.Query)
		if q.Mean != nil {
			fmt.Fprintf(tw, "  mean\t%.6g\n", *q.Mean)
		}
		for _, b := range q.Bins {
			fmt.Fprintf(tw, "  %s\t%.4f\n", formatBin(b), b.Probability)
		}
	}
	return tw.Flush()
}

func printRunList(a *app, list []runs.Run) error {
	if a.flags.json {
		if list == nil {
			list = []runs.Run{}
		}
		return printJSON(a, list)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCENARIO\tALGORITHM\tSAMPLES\tSTARTED")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Scenario, r.Algorithm, r.Samples, r.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
