// Package pipeline implements the three stages of the workflow: Preprocess
// cleans the raw CSV, Trainer fits and records a model in a tracked run, and
// Predictor applies the model of a finished run to new data.
package pipeline

import (
	"io/fs"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/tabflow/core/dataset"
	"github.com/YuminosukeSato/tabflow/pkg/config"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
	"github.com/YuminosukeSato/tabflow/pkg/log"
)

// PreprocessResult describes one preprocessing pass.
type PreprocessResult struct {
	RowsIn  int
	RowsOut int
	Path    string
}

// Preprocess reads data.raw_path, drops incomplete rows and writes the result
// to data.processed_path. A missing raw file is a RawFileNotFoundError.
func Preprocess(cfg *config.Config, logger log.Logger) (*PreprocessResult, error) {
	logger = logger.With(log.OperationKey, log.OperationPreprocess, log.PhaseKey, log.PhasePreprocessing)

	raw, err := dataset.ReadCSV(cfg.Data.RawPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewRawFileNotFoundError(cfg.Data.RawPath)
		}
		return nil, err
	}

	clean, err := Clean(raw, cfg.Data.PositiveColumns)
	if err != nil {
		return nil, err
	}
	if err := dataset.WriteCSV(cfg.Data.ProcessedPath, clean); err != nil {
		return nil, err
	}

	res := &PreprocessResult{RowsIn: raw.Len(), RowsOut: clean.Len(), Path: cfg.Data.ProcessedPath}
	logger.Info("Processed data saved",
		log.PathKey, res.Path,
		log.RowsInKey, res.RowsIn,
		log.RowsOutKey, res.RowsOut,
	)
	return res, nil
}

// Clean returns the rows of f that have no missing value in any column and,
// for every column in positiveColumns, a numeric value greater than zero.
// f is not modified.
func Clean(f *dataset.Frame, positiveColumns []string) (*dataset.Frame, error) {
	positive := make([]int, 0, len(positiveColumns))
	for _, col := range positiveColumns {
		j, err := f.ColumnIndex(col)
		if err != nil {
			return nil, err
		}
		positive = append(positive, j)
	}

	return f.Filter(func(row []string) bool {
		for _, v := range row {
			if dataset.IsMissing(v) {
				return false
			}
		}
		for _, j := range positive {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil || !(v > 0) {
				return false
			}
		}
		return true
	}), nil
}
