package pipeline

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/tabflow/core/dataset"
	"github.com/YuminosukeSato/tabflow/core/model"
	"github.com/YuminosukeSato/tabflow/pkg/config"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
	"github.com/YuminosukeSato/tabflow/pkg/log"
	"github.com/YuminosukeSato/tabflow/tracking"
)

// PredictResult holds the augmented table and where it was written.
type PredictResult struct {
	RunID  string
	Column string
	Frame  *dataset.Frame
	Path   string
}

// Predictor applies the model of a finished run to data.predict_path.
type Predictor struct {
	cfg    *config.Config
	client *tracking.Client
	logger log.Logger
}

// NewPredictor returns a Predictor. A nil logger means log.GetLogger().
func NewPredictor(cfg *config.Config, client *tracking.Client, logger log.Logger) *Predictor {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Predictor{cfg: cfg, client: client, logger: logger}
}

// ResolveRun returns the run with runID, or the latest FINISHED run of the
// configured experiment when runID is empty.
func (p *Predictor) ResolveRun(ctx context.Context, runID string) (*tracking.Run, error) {
	if runID != "" {
		return p.client.GetRun(ctx, runID)
	}
	return p.client.LatestFinishedRun(ctx, p.cfg.Train.ExperimentName)
}

// Predict loads the model of the resolved run, predicts data.predict_path and
// writes the augmented table to data.predictions_path.
func (p *Predictor) Predict(ctx context.Context, runID string) (*PredictResult, error) {
	run, err := p.ResolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With(log.RunIDKey, run.ID, log.PhaseKey, log.PhaseInference)

	m, meta, err := LoadModel(p.client, run)
	if err != nil {
		return nil, err
	}
	logger.Info("Model loaded", log.ModelNameKey, meta.ModelType, log.FeaturesKey, len(meta.Features))

	input, err := dataset.ReadCSV(p.cfg.Data.PredictPath)
	if err != nil {
		return nil, errors.Wrap(err, "load prediction input")
	}
	column := p.cfg.Data.PredictionColumn
	out, err := PredictFrame(m, meta, input, column)
	if err != nil {
		return nil, err
	}
	if column == "" {
		column = defaultPredictionColumn(meta)
	}

	path := p.cfg.Data.PredictionsPath
	if err := dataset.WriteCSV(path, out); err != nil {
		return nil, err
	}
	logger.Info("Predictions saved",
		log.OperationKey, log.OperationPredict,
		log.PredsKey, out.Len(),
		log.PathKey, path,
	)
	return &PredictResult{RunID: run.ID, Column: column, Frame: out, Path: path}, nil
}

// PredictFrame returns a copy of f with one appended column holding the
// model's predictions. The columns named in meta.Features are used as input in
// that order; a missing one is a SchemaMismatchError. An empty column name
// means Predicted_<label>.
func PredictFrame(m model.Regressor, meta *model.Metadata, f *dataset.Frame, column string) (*dataset.Frame, error) {
	if column == "" {
		column = defaultPredictionColumn(meta)
	}
	schema := dataset.NewSchema(meta.Label, meta.Features...)
	if err := schema.ValidateFeatures(f); err != nil {
		return nil, err
	}
	if f.HasColumn(column) {
		return nil, errors.NewValidationError("data.prediction_column", "already present in input", column)
	}
	X, err := f.Matrix(meta.Features)
	if err != nil {
		return nil, err
	}
	pred, err := m.Predict(X)
	if err != nil {
		return nil, errors.Wrapf(err, "predict with %s", meta.ModelType)
	}
	return f.WithFloatColumn(column, mat.Col(nil, 0, pred))
}

func defaultPredictionColumn(meta *model.Metadata) string {
	return "Predicted_" + meta.Label
}

// OpenTracking opens the tracking client configured under tracking.
func OpenTracking(ctx context.Context, cfg *config.Config, logger log.Logger) (*tracking.Client, error) {
	if logger == nil {
		logger = log.GetLogger()
	}
	return tracking.Open(ctx, cfg.Tracking.DBPath, cfg.Tracking.ArtifactRoot, tracking.WithLogger(logger))
}
