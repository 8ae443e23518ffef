package tracking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// storeFactories は同じテストを両方の実装に対して実行するためのもの
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"mem": func() Store { return NewMemStore() },
		"sql": func() Store {
			s, err := OpenSqlStore(context.Background(), filepath.Join(t.TempDir(), "nested", "tracking.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func seedExperiment(t *testing.T, s Store) *Experiment {
	t.Helper()
	exp := &Experiment{ID: "exp-1", Name: "salary_prediction", ArtifactLocation: "/tmp/a/exp-1", CreatedAt: t0}
	require.NoError(t, s.CreateExperiment(context.Background(), exp))
	return exp
}

func newRun(id string, start time.Time) *Run {
	return &Run{ID: id, ExperimentID: "exp-1", Status: StatusRunning, StartTime: start, ArtifactURI: "/tmp/a/exp-1/" + id}
}

func TestStoreExperiments(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			seedExperiment(t, s)

			got, err := s.GetExperimentByName(ctx, "salary_prediction")
			require.NoError(t, err)
			assert.Equal(t, "exp-1", got.ID)
			assert.True(t, got.CreatedAt.Equal(t0))

			_, err = s.GetExperimentByName(ctx, "missing")
			var nf *errors.ExperimentNotFoundError
			require.True(t, errors.As(err, &nf))
			assert.Equal(t, "missing", nf.Name)

			err = s.CreateExperiment(ctx, &Experiment{ID: "exp-2", Name: "salary_prediction"})
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			seedExperiment(t, s)
			require.NoError(t, s.CreateRun(ctx, newRun("run-1", t0)))

			require.NoError(t, s.LogParam(ctx, "run-1", "n_estimators", "100"))
			require.NoError(t, s.LogParam(ctx, "run-1", "n_estimators", "100"))
			var ve *errors.ValidationError
			assert.True(t, errors.As(s.LogParam(ctx, "run-1", "n_estimators", "5"), &ve))

			require.NoError(t, s.LogMetric(ctx, "run-1", "rmse", 3.5))
			require.NoError(t, s.LogMetric(ctx, "run-1", "rmse", 2.5))
			require.NoError(t, s.SetTag(ctx, "run-1", "stage", "FITTED"))

			end := t0.Add(time.Minute)
			require.NoError(t, s.UpdateRun(ctx, "run-1", StatusFinished, end))

			run, err := s.GetRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, StatusFinished, run.Status)
			assert.True(t, run.StartTime.Equal(t0))
			assert.True(t, run.EndTime.Equal(end))
			assert.Equal(t, map[string]string{"n_estimators": "100"}, run.Params)
			assert.Equal(t, map[string]float64{"rmse": 2.5}, run.Metrics)
			assert.Equal(t, map[string]string{"stage": "FITTED"}, run.Tags)

			// 終了したランは変更できない
			assert.ErrorIs(t, s.LogMetric(ctx, "run-1", "rmse", 1), ErrRunFinalized)
			assert.ErrorIs(t, s.UpdateRun(ctx, "run-1", StatusFailed, end), ErrRunFinalized)
		})
	}
}

func TestStoreRunErrors(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			seedExperiment(t, s)

			_, err := s.GetRun(ctx, "nope")
			var rnf *errors.RunNotFoundError
			assert.True(t, errors.As(err, &rnf))
			assert.True(t, errors.As(s.LogParam(ctx, "nope", "k", "v"), &rnf))

			bad := newRun("run-x", t0)
			bad.ExperimentID = "exp-missing"
			var enf *errors.ExperimentNotFoundError
			assert.True(t, errors.As(s.CreateRun(ctx, bad), &enf))

			require.NoError(t, s.CreateRun(ctx, newRun("run-1", t0)))
			var ve *errors.ValidationError
			assert.True(t, errors.As(s.CreateRun(ctx, newRun("run-1", t0)), &ve))
			assert.True(t, errors.As(s.UpdateRun(ctx, "run-1", StatusRunning, t0), &ve))
		})
	}
}

func TestStoreSearchRunsOrdering(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			seedExperiment(t, s)

			// 作成順と開始時刻の順を意図的にずらす
			starts := map[string]time.Time{
				"run-b": t0.Add(2 * time.Hour),
				"run-a": t0.Add(1 * time.Hour),
				"run-c": t0.Add(3 * time.Hour),
				"run-d": t0.Add(4 * time.Hour),
			}
			for _, id := range []string{"run-b", "run-a", "run-c", "run-d"} {
				require.NoError(t, s.CreateRun(ctx, newRun(id, starts[id])))
			}
			for _, id := range []string{"run-a", "run-b", "run-c"} {
				require.NoError(t, s.UpdateRun(ctx, id, StatusFinished, starts[id].Add(time.Minute)))
			}

			all, err := s.SearchRuns(ctx, RunQuery{ExperimentID: "exp-1"})
			require.NoError(t, err)
			assert.Equal(t, []string{"run-d", "run-c", "run-b", "run-a"}, runIDs(all))

			finished, err := s.SearchRuns(ctx, RunQuery{ExperimentID: "exp-1", Status: StatusFinished, MaxResults: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"run-c", "run-b"}, runIDs(finished))

			none, err := s.SearchRuns(ctx, RunQuery{ExperimentID: "other"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStoreSearchRunsTieBreak(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			seedExperiment(t, s)
			require.NoError(t, s.CreateRun(ctx, newRun("first", t0)))
			require.NoError(t, s.CreateRun(ctx, newRun("second", t0)))

			runs, err := s.SearchRuns(ctx, RunQuery{ExperimentID: "exp-1"})
			require.NoError(t, err)
			assert.Equal(t, []string{"second", "first"}, runIDs(runs))
		})
	}
}

func TestSqlStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tracking.db")

	s, err := OpenSqlStore(ctx, path)
	require.NoError(t, err)
	seedExperiment(t, s)
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", t0)))
	require.NoError(t, s.Close())

	s, err = OpenSqlStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.True(t, run.EndTime.IsZero())
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
