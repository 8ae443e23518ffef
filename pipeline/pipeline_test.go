package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/tabflow/core/dataset"
	"github.com/YuminosukeSato/tabflow/metrics"
	"github.com/YuminosukeSato/tabflow/pkg/config"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
	"github.com/YuminosukeSato/tabflow/pkg/log"
	"github.com/YuminosukeSato/tabflow/tracking"
)

func quietLogger() log.Logger {
	l, _ := log.NewTestLogger(log.LevelDebug)
	return l
}

// testConfig は一時ディレクトリに閉じた設定を返す
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.RawPath = filepath.Join(dir, "raw", "salary.csv")
	cfg.Data.ProcessedPath = filepath.Join(dir, "processed", "salary.csv")
	cfg.Data.Features = []dataset.Feature{{Name: "YearsExperience", Type: dataset.Float}}
	cfg.Data.Label = "Salary"
	cfg.Data.PredictPath = filepath.Join(dir, "raw", "salary_test.csv")
	cfg.Data.PredictionsPath = filepath.Join(dir, "out", "predictions.csv")
	cfg.Data.PredictionColumn = "Predicted_Salary"
	cfg.Data.MetricsPath = filepath.Join(dir, "reports", "metrics.json")
	cfg.Train.ExperimentName = "salary_test"
	cfg.Train.NEstimators = 10
	cfg.Train.MaxDepth = 4
	cfg.Tracking.DBPath = filepath.Join(dir, "mlruns", "tracking.db")
	cfg.Tracking.ArtifactRoot = filepath.Join(dir, "mlruns", "artifacts")
	require.NoError(t, cfg.Validate())
	return cfg
}

func testClient(cfg *config.Config) *tracking.Client {
	return tracking.NewClient(tracking.NewMemStore(),
		tracking.NewArtifactRepository(cfg.Tracking.ArtifactRoot),
		tracking.WithLogger(quietLogger()))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// salaryCSV は経験年数にほぼ比例する給与データを生成する
func salaryCSV(n int) string {
	var b strings.Builder
	b.WriteString("YearsExperience,Salary\n")
	for i := 0; i < n; i++ {
		x := 1.1 + 0.35*float64(i)
		noise := float64((i*7)%5-2) * 800
		fmt.Fprintf(&b, "%.2f,%.0f\n", x, 25000+9000*x+noise)
	}
	return b.String()
}

func TestPreprocessDropsIncompleteRows(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Data.RawPath, "YearsExperience,Salary\n1.1,39343\n1.3,\n1.5,37731\n2.0,43525\n2.2,39891\n")

	res, err := Preprocess(cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 5, res.RowsIn)
	assert.Equal(t, 4, res.RowsOut)
	assert.Equal(t, cfg.Data.ProcessedPath, res.Path)

	out, err := dataset.ReadCSV(cfg.Data.ProcessedPath)
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())
	for i := 0; i < out.Len(); i++ {
		for _, v := range out.Row(i) {
			assert.False(t, dataset.IsMissing(v), "row %d", i)
		}
	}
	ys, err := out.Column("YearsExperience")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1", "1.5", "2.0", "2.2"}, ys)
}

func TestPreprocessDropsShortRows(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Data.RawPath, "YearsExperience,Salary\n1.1,39343\n1.3\n1.5,37731\n2.0,43525\n2.2,39891\n")

	res, err := Preprocess(cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 5, res.RowsIn)
	assert.Equal(t, 4, res.RowsOut)

	out, err := dataset.ReadCSV(cfg.Data.ProcessedPath)
	require.NoError(t, err)
	ys, err := out.Column("YearsExperience")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1", "1.5", "2.0", "2.2"}, ys)
}

func TestPreprocessRejectsLongRows(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Data.RawPath, "YearsExperience,Salary\n1.1,39343\n1.3,46205,extra\n")

	_, err := Preprocess(cfg, quietLogger())
	var dimErr *errors.DimensionError
	require.True(t, errors.As(err, &dimErr), "got %v", err)
	assert.NoFileExists(t, cfg.Data.ProcessedPath)
}

// Excel などが付けるBOM付きのファイルでも列名が一致して学習まで進む
func TestPreprocessThenTrainWithByteOrderMark(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Train.ModelType = "decision_tree"
	writeFile(t, cfg.Data.RawPath, "\ufeff"+salaryCSV(30)+"12.0\n")

	res, err := Preprocess(cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 31, res.RowsIn)
	assert.Equal(t, 30, res.RowsOut)

	processed, err := os.ReadFile(cfg.Data.ProcessedPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(processed), "YearsExperience,Salary\n"))

	trained, err := NewTrainer(cfg, testClient(cfg), quietLogger()).Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, StageFinished, trained.Stage)
}

func TestPreprocessIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Data.RawPath, "YearsExperience,Salary\n1.1,39343\nNA,46205\n3.2,nan\n3.9,63218\n")

	_, err := Preprocess(cfg, quietLogger())
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.Data.ProcessedPath)
	require.NoError(t, err)

	// 自分の出力を入力にしても結果は変わらない
	cfg.Data.RawPath = cfg.Data.ProcessedPath
	cfg.Data.ProcessedPath = filepath.Join(t.TempDir(), "again.csv")
	res, err := Preprocess(cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, res.RowsIn, res.RowsOut)
	second, err := os.ReadFile(cfg.Data.ProcessedPath)
	require.NoError(t, err)
	if diff := cmp.Diff(string(first), string(second)); diff != "" {
		t.Errorf("second pass changed the data (-first +second):\n%s", diff)
	}
}

func TestCleanPositiveColumns(t *testing.T) {
	f, err := dataset.NewFrame([]string{"YearsExperience", "Salary"}, [][]string{
		{"1.1", "39343"},
		{"1.3", "-5"},
		{"0", "37731"},
		{"2.0", "abc"},
		{"2.2", "39891"},
	})
	require.NoError(t, err)

	t.Run("opt-in", func(t *testing.T) {
		out, err := Clean(f, []string{"YearsExperience", "Salary"})
		require.NoError(t, err)
		assert.Equal(t, 2, out.Len())
		assert.Equal(t, []string{"2.2", "39891"}, out.Row(1))
	})
	t.Run("default keeps non-positive values", func(t *testing.T) {
		out, err := Clean(f, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, out.Len())
	})
	t.Run("unknown column", func(t *testing.T) {
		_, err := Clean(f, []string{"Age"})
		var mismatch *errors.SchemaMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, "Age", mismatch.Column)
	})
	assert.Equal(t, 5, f.Len())
}

func TestPreprocessRawFileNotFound(t *testing.T) {
	cfg := testConfig(t)
	_, err := Preprocess(cfg, quietLogger())
	var notFound *errors.RawFileNotFoundError
	require.True(t, errors.As(err, &notFound), "got %v", err)
	assert.NoFileExists(t, cfg.Data.ProcessedPath)
}

func TestTrainRecordsFinishedRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Train.Plot = true
	writeFile(t, cfg.Data.ProcessedPath, salaryCSV(30))
	client := testClient(cfg)

	res, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, StageFinished, res.Stage)
	assert.ElementsMatch(t, []string{"mae", "mse", "r2", "rmse"}, res.Metrics.Names())
	assert.Greater(t, res.Metrics[metrics.MetricR2], 0.8)

	run, err := client.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusFinished, run.Status)
	assert.Equal(t, res.ExperimentID, run.ExperimentID)
	assert.Equal(t, cfg.Data.RawPath, run.Params["data_source"])
	assert.Equal(t, "10", run.Params["n_estimators"])
	assert.Equal(t, "4", run.Params["max_depth"])
	assert.Equal(t, "0.2", run.Params["test_size"])
	assert.Equal(t, "42", run.Params["random_state"])
	assert.Equal(t, "YearsExperience", run.Params["features"])
	assert.Equal(t, "Salary", run.Params["label"])
	assert.InDelta(t, res.Metrics[metrics.MetricRMSE], run.Metrics["rmse"], 1e-9)
	assert.NotContains(t, run.Tags, TreeDepthTag, "forest runs carry no single-tree shape")

	artifacts, err := client.ListArtifacts(run)
	require.NoError(t, err)
	assert.Equal(t, []string{ModelMetaFile, ModelFile, PredictionPlotFile}, artifacts)

	data, err := os.ReadFile(cfg.Data.MetricsPath)
	require.NoError(t, err)
	var written metrics.Report
	require.NoError(t, json.Unmarshal(data, &written))
	if diff := cmp.Diff(res.Metrics, written); diff != "" {
		t.Errorf("metrics file mismatch (-want +got):\n%s", diff)
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeFile(t, cfg.Data.ProcessedPath, salaryCSV(40))
	cfg.Data.MetricsPath = ""

	var reports []metrics.Report
	for _, nJobs := range []int{1, 4} {
		cfg.Train.NJobs = nJobs
		res, err := NewTrainer(cfg, testClient(cfg), quietLogger()).Train(ctx)
		require.NoError(t, err)
		reports = append(reports, res.Metrics)
	}
	assert.Equal(t, reports[0], reports[1])
}

func TestTrainLinearRegression(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Train.ModelType = "LinearRegression"
	cfg.Train.Standardize = true
	writeFile(t, cfg.Data.ProcessedPath, "YearsExperience,Salary\n1,30000\n2,40000\n3,50000\n4,60000\n5,70000\n6,80000\n7,90000\n8,100000\n9,110000\n10,120000\n")
	client := testClient(cfg)

	res, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Metrics[metrics.MetricRMSE], 1e-4)

	run, err := client.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	m, meta, err := LoadModel(client, run)
	require.NoError(t, err)
	assert.Equal(t, "linear_regression", meta.ModelType)
	assert.True(t, m.IsFitted())
}

func TestTrainDecisionTreeRecordsShape(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Train.ModelType = "decision_tree"
	cfg.Train.MaxDepth = 3
	writeFile(t, cfg.Data.ProcessedPath, salaryCSV(30))
	client := testClient(cfg)

	res, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
	require.NoError(t, err)

	run, err := client.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	depth, err := strconv.Atoi(run.Tags[TreeDepthTag])
	require.NoError(t, err)
	leaves, err := strconv.Atoi(run.Tags[TreeLeavesTag])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, depth, 1)
	assert.LessOrEqual(t, depth, 3)
	assert.GreaterOrEqual(t, leaves, 2)
	assert.LessOrEqual(t, leaves, 1<<3)
}

func TestTrainFailureMarksRun(t *testing.T) {
	ctx := context.Background()

	t.Run("missing processed data", func(t *testing.T) {
		cfg := testConfig(t)
		client := testClient(cfg)

		res, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, StageParamsLogged, res.Stage)

		run, err := client.GetRun(ctx, res.RunID)
		require.NoError(t, err)
		assert.Equal(t, tracking.StatusFailed, run.Status)
		assert.Equal(t, string(StageDataLoaded), run.Tags[FailedStageTag])
		assert.False(t, run.EndTime.IsZero())
	})

	t.Run("missing label column", func(t *testing.T) {
		cfg := testConfig(t)
		writeFile(t, cfg.Data.ProcessedPath, "YearsExperience,Income\n1,2\n2,3\n")
		client := testClient(cfg)

		res, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
		var mismatch *errors.SchemaMismatchError
		require.True(t, errors.As(err, &mismatch), "got %v", err)
		assert.Equal(t, "Salary", mismatch.Column)

		_, err = client.LatestFinishedRun(ctx, cfg.Train.ExperimentName)
		var none *errors.NoFinishedRunError
		assert.True(t, errors.As(err, &none))

		run, err := client.GetRun(ctx, res.RunID)
		require.NoError(t, err)
		assert.Equal(t, string(StageDataLoaded), run.Tags[FailedStageTag])
	})

	t.Run("canceled context", func(t *testing.T) {
		cfg := testConfig(t)
		writeFile(t, cfg.Data.ProcessedPath, salaryCSV(30))
		client := testClient(cfg)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		// メモリストアは ctx を見ないので、学習の段階で止まる
		res, err := NewTrainer(cfg, client, quietLogger()).Train(cctx)
		require.ErrorIs(t, err, context.Canceled)
		got, err := client.GetRun(ctx, res.RunID)
		require.NoError(t, err)
		assert.Equal(t, tracking.StatusFailed, got.Status)
		assert.Equal(t, string(StageFitted), got.Tags[FailedStageTag])
	})
}

func TestTrainThenPredict(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeFile(t, cfg.Data.ProcessedPath, salaryCSV(30))
	writeFile(t, cfg.Data.PredictPath, "Name,YearsExperience\nann,1.5\nbob,4.0\ncid,7.25\ndee,10.3\n")
	client := testClient(cfg)

	trained, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
	require.NoError(t, err)

	res, err := NewPredictor(cfg, client, quietLogger()).Predict(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, trained.RunID, res.RunID)
	assert.Equal(t, "Predicted_Salary", res.Column)

	input, err := dataset.ReadCSV(cfg.Data.PredictPath)
	require.NoError(t, err)
	out, err := dataset.ReadCSV(cfg.Data.PredictionsPath)
	require.NoError(t, err)

	assert.Equal(t, append(input.Columns(), "Predicted_Salary"), out.Columns())
	require.Equal(t, input.Len(), out.Len())
	for i := 0; i < input.Len(); i++ {
		if diff := cmp.Diff(input.Row(i), out.Row(i)[:2]); diff != "" {
			t.Errorf("row %d changed (-input +output):\n%s", i, diff)
		}
	}
	preds, err := out.Floats("Predicted_Salary")
	require.NoError(t, err)
	for i := 1; i < len(preds); i++ {
		assert.Greater(t, preds[i], preds[i-1], "salary should grow with experience")
	}
	assert.Equal(t, out.Len(), res.Frame.Len())
}

func TestPredictWithRunID(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeFile(t, cfg.Data.ProcessedPath, salaryCSV(30))
	writeFile(t, cfg.Data.PredictPath, "YearsExperience\n2\n")
	client := testClient(cfg)

	first, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
	require.NoError(t, err)
	_, err = NewTrainer(cfg, client, quietLogger()).Train(ctx)
	require.NoError(t, err)

	p := NewPredictor(cfg, client, quietLogger())
	run, err := p.ResolveRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, run.ID)

	res, err := p.Predict(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, res.RunID)

	_, err = p.Predict(ctx, "no-such-run")
	var notFound *errors.RunNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestPredictErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown experiment", func(t *testing.T) {
		cfg := testConfig(t)
		_, err := NewPredictor(cfg, testClient(cfg), quietLogger()).Predict(ctx, "")
		var notFound *errors.ExperimentNotFoundError
		assert.True(t, errors.As(err, &notFound), "got %v", err)
	})

	t.Run("missing feature column", func(t *testing.T) {
		cfg := testConfig(t)
		writeFile(t, cfg.Data.ProcessedPath, salaryCSV(20))
		writeFile(t, cfg.Data.PredictPath, "Name,Age\nann,30\n")
		client := testClient(cfg)
		_, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
		require.NoError(t, err)

		_, err = NewPredictor(cfg, client, quietLogger()).Predict(ctx, "")
		var mismatch *errors.SchemaMismatchError
		require.True(t, errors.As(err, &mismatch), "got %v", err)
		assert.Equal(t, "YearsExperience", mismatch.Column)
		assert.NoFileExists(t, cfg.Data.PredictionsPath)
	})
}

func TestPredictFrameDoesNotMutateInput(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeFile(t, cfg.Data.ProcessedPath, salaryCSV(20))
	client := testClient(cfg)
	trained, err := NewTrainer(cfg, client, quietLogger()).Train(ctx)
	require.NoError(t, err)
	run, err := client.GetRun(ctx, trained.RunID)
	require.NoError(t, err)
	m, meta, err := LoadModel(client, run)
	require.NoError(t, err)

	f, err := dataset.NewFrame([]string{"YearsExperience"}, [][]string{{"3"}, {"5"}})
	require.NoError(t, err)
	out, err := PredictFrame(m, meta, f, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"YearsExperience", "Predicted_Salary"}, out.Columns())
	assert.Equal(t, []string{"YearsExperience"}, f.Columns())
	assert.Equal(t, []string{"3"}, f.Row(0))

	_, err = PredictFrame(m, meta, out, "Predicted_Salary")
	var invalid *errors.ValidationError
	assert.True(t, errors.As(err, &invalid))
}

func TestNewRegressor(t *testing.T) {
	cfg := config.Default().Train
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"random_forest", "random_forest"},
		{"RandomForestRegressor", "random_forest"},
		{"decision_tree", "decision_tree"},
		{"linear_regression", "linear_regression"},
		{" LinearRegression ", "linear_regression"},
	} {
		cfg.ModelType = tc.in
		m, got, err := NewRegressor(cfg, 1)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
		assert.False(t, m.IsFitted())
	}

	cfg.ModelType = "xgboost"
	_, _, err := NewRegressor(cfg, 1)
	var invalid *errors.ValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "train.model_type", invalid.ParamName)
}
