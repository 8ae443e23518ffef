package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/tabflow/pipeline"
	"github.com/YuminosukeSato/tabflow/tracking"
)

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs of the configured experiment, newest first",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command) error {
			client, err := pipeline.OpenTracking(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.ListRuns(ctx, a.cfg.Train.ExperimentName)
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			artifacts := make(map[string][]string, len(runs))
			for _, r := range runs {
				paths, err := client.ListArtifacts(r)
				if err != nil {
					return err
				}
				artifacts[r.ID] = paths
			}
			renderRuns(cmd.OutOrStdout(), runs, artifacts)
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many runs (0 = all)")
	return cmd
}

// renderRuns prints one row per run. artifacts maps a run id to its
// artifact paths.
func renderRuns(w io.Writer, runs []*tracking.Run, artifacts map[string][]string) {
	var names []string
	seen := map[string]bool{}
	for _, r := range runs {
		for name := range r.Metrics {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	t := newTable(w)
	header := table.Row{"RUN ID", "STATUS", "STARTED", "DURATION"}
	for _, name := range names {
		header = append(header, name)
	}
	header = append(header, "ARTIFACTS")
	t.AppendHeader(header)
	for _, r := range runs {
		row := table.Row{r.ID, string(r.Status), r.StartTime.Local().Format(time.DateTime), duration(r)}
		for _, name := range names {
			if v, ok := r.Metrics[name]; ok {
				row = append(row, formatFloat(v))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, strings.Join(artifacts[r.ID], "\n"))
		t.AppendRow(row)
	}
	t.Render()
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
	}
}

func duration(r *tracking.Run) string {
	if r.EndTime.IsZero() {
		return ""
	}
	return r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String()
}
