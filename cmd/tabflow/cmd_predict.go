package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/tabflow/pipeline"
)

func newPredictCmd(a *app) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict data.predict_path with the latest finished run, or --run-id",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command) error {
			client, err := pipeline.OpenTracking(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := pipeline.NewPredictor(a.cfg, client, a.logger).Predict(ctx, runID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderFrame(out, res.Frame)
			fmt.Fprintf(out, "Predictions of run %s saved to %s\n", res.RunID, res.Path)
			return nil
		}),
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "use this run instead of the latest finished one")
	return cmd
}
