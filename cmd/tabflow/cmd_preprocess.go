package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/tabflow/pipeline"
)

func newPreprocessCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preprocess",
		Short: "Drop incomplete rows from data.raw_path into data.processed_path",
		Args:  cobra.NoArgs,
		RunE: a.run(func(_ context.Context, cmd *cobra.Command) error {
			res, err := pipeline.Preprocess(a.cfg, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed data saved to %s (%d of %d rows kept)\n",
				res.Path, res.RowsOut, res.RowsIn)
			return nil
		}),
	}
}
