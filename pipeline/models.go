package pipeline

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/tabflow/core/model"
	"github.com/YuminosukeSato/tabflow/ensemble"
	"github.com/YuminosukeSato/tabflow/linear"
	"github.com/YuminosukeSato/tabflow/pkg/config"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
	"github.com/YuminosukeSato/tabflow/tracking"
	"github.com/YuminosukeSato/tabflow/tree"
)

// Artifact paths inside a run. The trainer writes and the predictor reads the
// same constants.
const (
	ModelArtifactDir   = "model"
	ModelFile          = ModelArtifactDir + "/model.gob"
	ModelMetaFile      = ModelArtifactDir + "/meta.json"
	PredictionPlotFile = "plots/predictions.png"
)

// modelAliases maps accepted train.model_type spellings to registered types.
var modelAliases = map[string]string{
	"randomforestregressor": ensemble.ModelType,
	"linearregression":      linear.ModelType,
	"decisiontreeregressor": tree.ModelType,
}

// canonicalModelType normalizes train.model_type.
func canonicalModelType(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := modelAliases[key]; ok {
		return alias
	}
	return key
}

// NewRegressor builds the estimator selected by train.model_type with the
// configured hyperparameters. seed is data.random_state.
func NewRegressor(cfg config.TrainConfig, seed int64) (model.Regressor, string, error) {
	modelType := canonicalModelType(cfg.ModelType)
	switch modelType {
	case ensemble.ModelType:
		return ensemble.NewRandomForestRegressor(
			ensemble.WithNEstimators(cfg.NEstimators),
			ensemble.WithMaxDepth(cfg.MaxDepth),
			ensemble.WithMinSamplesSplit(cfg.MinSamplesSplit),
			ensemble.WithMinSamplesLeaf(cfg.MinSamplesLeaf),
			ensemble.WithMaxFeatures(cfg.MaxFeatures),
			ensemble.WithRandomState(seed),
			ensemble.WithNJobs(cfg.NJobs),
		), modelType, nil
	case tree.ModelType:
		return tree.NewDecisionTreeRegressor(
			tree.WithMaxDepth(cfg.MaxDepth),
			tree.WithMinSamplesSplit(cfg.MinSamplesSplit),
			tree.WithMinSamplesLeaf(cfg.MinSamplesLeaf),
			tree.WithMaxFeatures(cfg.MaxFeatures),
			tree.WithRandomState(seed),
		), modelType, nil
	case linear.ModelType:
		return linear.NewLinearRegression(linear.WithStandardize(cfg.Standardize)), modelType, nil
	}
	return nil, "", errors.NewValidationError("train.model_type",
		"must be one of "+strings.Join(model.RegisteredTypes(), ", "), cfg.ModelType)
}

// hyperparameters returns the estimator's parameters, or nil if it has none.
func hyperparameters(m model.Regressor) map[string]interface{} {
	if pg, ok := m.(model.ParameterGetter); ok {
		return pg.GetParams()
	}
	return nil
}

// newMetadata describes a fitted model for its meta.json artifact.
func newMetadata(m model.Regressor, modelType string, features []string, label string, nTrain int, now time.Time) *model.Metadata {
	return &model.Metadata{
		ModelType:       modelType,
		Version:         model.MetadataVersion,
		Features:        append([]string(nil), features...),
		Label:           label,
		Hyperparameters: hyperparameters(m),
		Metadata:        map[string]interface{}{"n_train_samples": nTrain},
		IsFitted:        m.IsFitted(),
		CreatedAt:       now.UTC(),
	}
}

// saveModel writes model.gob and meta.json into the run.
func saveModel(run *tracking.ActiveRun, m model.Regressor, meta *model.Metadata) error {
	if err := run.LogArtifact(ModelFile, func(w io.Writer) error {
		return model.SaveModelToWriter(m, w)
	}); err != nil {
		return err
	}
	return run.LogArtifact(ModelMetaFile, func(w io.Writer) error {
		data, err := meta.ToJSON()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
}

// LoadModel restores the model artifact of a run.
func LoadModel(client *tracking.Client, run *tracking.Run) (model.Regressor, *model.Metadata, error) {
	rc, err := client.OpenArtifact(run, ModelMetaFile)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "run %s has no model artifact", run.ID)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, nil, errors.Wrap(err, "read model metadata")
	}
	meta := &model.Metadata{}
	if err := meta.FromJSON(data); err != nil {
		return nil, nil, errors.Wrap(err, "decode model metadata")
	}

	rc, err = client.OpenArtifact(run, ModelFile)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "run %s has no model artifact", run.ID)
	}
	defer rc.Close()
	m, err := model.Load(meta, rc)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load model of run %s", run.ID)
	}
	return m, meta, nil
}

// formatParams renders hyperparameters as run params.
func formatParams(params map[string]interface{}) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = formatValue(v)
	}
	return out
}

func formatValue(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
