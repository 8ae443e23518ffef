package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/tabflow/pipeline"
)

func newTrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Fit the configured model on the processed data in a new tracked run",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command) error {
			client, err := pipeline.OpenTracking(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := pipeline.NewTrainer(a.cfg, client, a.logger).Train(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s finished (experiment %s)\n", res.RunID, a.cfg.Train.ExperimentName)
			renderReport(out, res.Metrics)
			return nil
		}),
	}
}
