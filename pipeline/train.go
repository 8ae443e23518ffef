package pipeline

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/tabflow/core/dataset"
	"github.com/YuminosukeSato/tabflow/core/model"
	"github.com/YuminosukeSato/tabflow/metrics"
	"github.com/YuminosukeSato/tabflow/modelselection"
	"github.com/YuminosukeSato/tabflow/pkg/config"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
	"github.com/YuminosukeSato/tabflow/pkg/log"
	"github.com/YuminosukeSato/tabflow/tracking"
)

// Stage is a step of a training run.
type Stage string

// 学習ステージ（この順に進む）
const (
	StageStarted        Stage = "STARTED"
	StageParamsLogged   Stage = "PARAMS_LOGGED"
	StageDataLoaded     Stage = "DATA_LOADED"
	StageSplit          Stage = "SPLIT"
	StageFitted         Stage = "FITTED"
	StageEvaluated      Stage = "EVALUATED"
	StageMetricsLogged  Stage = "METRICS_LOGGED"
	StageArtifactLogged Stage = "ARTIFACT_LOGGED"
	StageFinished       Stage = "FINISHED"
)

// FailedStageTag is set on a FAILED run to the stage that was being attempted.
const FailedStageTag = "failed_stage"

// 単一の決定木を学習した run には木の形をタグで残す
const (
	TreeDepthTag  = "model.tree_depth"
	TreeLeavesTag = "model.tree_leaves"
)

// TrainResult describes a training run. Stage is the last stage completed.
type TrainResult struct {
	RunID        string
	ExperimentID string
	Metrics      metrics.Report
	Stage        Stage
}

// Trainer fits the configured regressor and records it as a tracked run.
type Trainer struct {
	cfg    *config.Config
	client *tracking.Client
	logger log.Logger
	now    func() time.Time
}

// NewTrainer returns a Trainer. A nil logger means log.GetLogger().
func NewTrainer(cfg *config.Config, client *tracking.Client, logger log.Logger) *Trainer {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Trainer{cfg: cfg, client: client, logger: logger, now: time.Now}
}

// contextFitter is implemented by estimators that can stop fitting early.
type contextFitter interface {
	FitContext(ctx context.Context, X, y mat.Matrix) error
}

// treeShape is implemented by single-tree models.
type treeShape interface {
	Depth() int
	LeafCount() int
}

// trainRun carries the state passed between the stages of one run.
type trainRun struct {
	*Trainer
	run    *tracking.ActiveRun
	logger log.Logger

	schema    dataset.Schema
	X         *mat.Dense
	y         *mat.VecDense
	split     modelselection.Split
	model     model.Regressor
	modelType string
	xTest     *mat.Dense
	yTest     *mat.VecDense
	yPred     *mat.VecDense
	report    metrics.Report
}

// Train runs every stage in order and finishes the run. Any failure, including
// a panic, marks the run FAILED with a failed_stage tag and is returned along
// with the partial result.
func (t *Trainer) Train(ctx context.Context) (res *TrainResult, err error) {
	run, err := t.client.StartRun(ctx, t.cfg.Train.ExperimentName)
	if err != nil {
		return nil, err
	}
	res = &TrainResult{RunID: run.ID(), ExperimentID: run.ExperimentID(), Stage: StageStarted}
	tr := &trainRun{
		Trainer: t,
		run:     run,
		logger: t.logger.With(
			log.ExperimentKey, t.cfg.Train.ExperimentName,
			log.RunIDKey, run.ID(),
			log.PhaseKey, log.PhaseTraining,
		),
		schema: t.cfg.Schema(),
	}

	attempt := StageParamsLogged
	defer func() {
		if err != nil {
			tr.fail(ctx, attempt, err)
		}
	}()
	defer errors.Recover(&err, "pipeline.Train")

	steps := []struct {
		stage Stage
		run   func(context.Context) error
	}{
		{StageParamsLogged, tr.logParams},
		{StageDataLoaded, tr.loadData},
		{StageSplit, tr.splitData},
		{StageFitted, tr.fit},
		{StageEvaluated, tr.evaluate},
		{StageMetricsLogged, tr.logMetrics},
		{StageArtifactLogged, tr.logArtifacts},
	}
	for _, step := range steps {
		attempt = step.stage
		if err := step.run(ctx); err != nil {
			return res, err
		}
		res.Stage = step.stage
		tr.logger.Debug("Stage completed", log.StageKey, string(step.stage))
	}
	res.Metrics = tr.report

	attempt = StageFinished
	if err := run.End(ctx, tracking.StatusFinished); err != nil {
		return res, err
	}
	res.Stage = StageFinished

	tr.logger.Info("Training finished",
		log.ModelNameKey, tr.modelType,
		log.RMSEKey, tr.report[metrics.MetricRMSE],
	)
	return res, nil
}

// fail tags and finalizes the run. It uses a context detached from ctx so a
// canceled run is still recorded.
func (tr *trainRun) fail(ctx context.Context, stage Stage, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := tr.run.SetTag(ctx, FailedStageTag, string(stage)); err != nil {
		tr.logger.Warn("Could not tag failed run", err)
	}
	if err := tr.run.End(ctx, tracking.StatusFailed); err != nil && !errors.Is(err, tracking.ErrRunFinalized) {
		tr.logger.Warn("Could not mark run as failed", err)
	}
	tr.logger.Error("Training failed", cause, log.StageKey, string(stage))
}

func (tr *trainRun) logParams(ctx context.Context) error {
	d, t := tr.cfg.Data, tr.cfg.Train
	params := map[string]string{
		"experiment_name":   t.ExperimentName,
		"model_type":        t.ModelType,
		"n_estimators":      strconv.Itoa(t.NEstimators),
		"max_depth":         strconv.Itoa(t.MaxDepth),
		"min_samples_split": strconv.Itoa(t.MinSamplesSplit),
		"min_samples_leaf":  strconv.Itoa(t.MinSamplesLeaf),
		"max_features":      strconv.Itoa(t.MaxFeatures),
		"n_jobs":            strconv.Itoa(t.NJobs),
		"standardize":       strconv.FormatBool(t.Standardize),
		"plot":              strconv.FormatBool(t.Plot),
		"data_source":       d.RawPath,
		"test_size":         strconv.FormatFloat(d.TestSize, 'g', -1, 64),
		"random_state":      strconv.FormatInt(d.RandomState, 10),
		"features":          strings.Join(tr.schema.FeatureNames(), ","),
		"label":             d.Label,
	}
	return tr.run.LogParams(ctx, params)
}

func (tr *trainRun) loadData(_ context.Context) error {
	path := tr.cfg.Data.ProcessedPath
	f, err := dataset.ReadCSV(path)
	if err != nil {
		return errors.Wrap(err, "load processed data (run preprocess first?)")
	}
	if err := tr.schema.Validate(f); err != nil {
		return err
	}
	tr.X, tr.y, err = tr.schema.XY(f)
	if err != nil {
		return err
	}
	r, c := tr.X.Dims()
	tr.logger.Info("Data loaded", log.PathKey, path, log.SamplesKey, r, log.FeaturesKey, c)
	return nil
}

func (tr *trainRun) splitData(_ context.Context) error {
	n, _ := tr.X.Dims()
	s, err := modelselection.TrainTestSplit(n, tr.cfg.Data.TestSize, tr.cfg.Data.RandomState)
	if err != nil {
		return err
	}
	tr.split = s
	return nil
}

func (tr *trainRun) fit(ctx context.Context) error {
	m, modelType, err := NewRegressor(tr.cfg.Train, tr.cfg.Data.RandomState)
	if err != nil {
		return err
	}
	tr.model, tr.modelType = m, modelType

	// ハイパーパラメータは推定器の実際の値も記録する
	if err := tr.run.LogParams(ctx, formatParams(prefixKeys("model.", hyperparameters(m)))); err != nil {
		return err
	}

	xTrain, xTest, yTrain, yTest := tr.split.Apply(tr.X, tr.y)
	tr.xTest, tr.yTest = xTest, yTest

	start := tr.now()
	if cf, ok := m.(contextFitter); ok {
		err = cf.FitContext(ctx, xTrain, yTrain)
	} else {
		err = m.Fit(xTrain, yTrain)
	}
	if err != nil {
		return errors.Wrapf(err, "fit %s", modelType)
	}
	nTrain, _ := xTrain.Dims()
	fields := []any{
		log.ModelNameKey, modelType,
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nTrain,
		log.DurationMsKey, tr.now().Sub(start).Milliseconds(),
	}
	if ts, ok := m.(treeShape); ok {
		depth, leaves := ts.Depth(), ts.LeafCount()
		if err := tr.run.SetTag(ctx, TreeDepthTag, strconv.Itoa(depth)); err != nil {
			return err
		}
		if err := tr.run.SetTag(ctx, TreeLeavesTag, strconv.Itoa(leaves)); err != nil {
			return err
		}
		fields = append(fields, TreeDepthTag, depth, TreeLeavesTag, leaves)
	}
	tr.logger.Info("Model fitted", fields...)
	return nil
}

func (tr *trainRun) evaluate(_ context.Context) error {
	pred, err := tr.model.Predict(tr.xTest)
	if err != nil {
		return err
	}
	tr.yPred = mat.NewVecDense(tr.yTest.Len(), mat.Col(nil, 0, pred))
	tr.report, err = metrics.Evaluate(tr.yTest, tr.yPred)
	return err
}

func (tr *trainRun) logMetrics(ctx context.Context) error {
	if err := tr.run.LogMetrics(ctx, tr.report); err != nil {
		return err
	}
	fields := []any{log.OperationKey, log.OperationEvaluate, log.SamplesKey, tr.yTest.Len()}
	for _, name := range tr.report.Names() {
		fields = append(fields, "metrics."+name, tr.report[name])
	}
	tr.logger.Info("Metrics logged", fields...)

	if p := tr.cfg.Data.MetricsPath; p != "" {
		if err := tr.report.WriteJSON(p); err != nil {
			return err
		}
		tr.logger.Debug("Metrics file written", log.PathKey, p)
	}
	return nil
}

func (tr *trainRun) logArtifacts(_ context.Context) error {
	nTrain := len(tr.split.Train)
	meta := newMetadata(tr.model, tr.modelType, tr.schema.FeatureNames(), tr.schema.Label, nTrain, tr.now())
	if err := saveModel(tr.run, tr.model, meta); err != nil {
		return err
	}
	if !tr.cfg.Train.Plot {
		return nil
	}
	return tr.run.LogArtifact(PredictionPlotFile, func(w io.Writer) error {
		return metrics.PlotPredictions(w, mat.Col(nil, 0, tr.yTest), mat.Col(nil, 0, tr.yPred), metrics.PlotOptions{
			Title: tr.cfg.Train.ExperimentName + " (" + tr.modelType + ")",
			Label: tr.schema.Label,
		})
	})
}

func prefixKeys(prefix string, m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[prefix+k] = v
	}
	return out
}
