// Package tracking records experiments, runs, their parameters, metrics and tags,
// and the artifact files each run produces.
//
// A Store persists the records (SqlStore on SQLite, MemStore for tests), an
// ArtifactRepository holds the files, and Client ties both together behind
// explicit ActiveRun handles. A run is created RUNNING and finalized exactly once
// as FINISHED or FAILED; afterwards it is immutable.
package tracking

import (
	"context"
	"time"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// ErrRunFinalized is returned when a finished or failed run is modified.
var ErrRunFinalized = errors.New("run already finalized")

// Experiment is a named group of runs.
type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
	CreatedAt        time.Time
}

// Run is one recorded training execution.
type Run struct {
	ID           string
	ExperimentID string
	Status       RunStatus
	StartTime    time.Time
	// EndTime is zero while the run is RUNNING.
	EndTime     time.Time
	ArtifactURI string

	Params  map[string]string
	Metrics map[string]float64
	Tags    map[string]string
}

// RunQuery selects runs of one experiment. Results are ordered by start time,
// newest first; runs with equal start times come in reverse creation order.
type RunQuery struct {
	ExperimentID string
	// Status filters by status when non-empty.
	Status RunStatus
	// MaxResults limits the result count when positive.
	MaxResults int
}

// Store persists experiments and runs.
type Store interface {
	CreateExperiment(ctx context.Context, exp *Experiment) error
	// GetExperimentByName returns ExperimentNotFoundError when absent.
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)

	CreateRun(ctx context.Context, run *Run) error
	// GetRun returns RunNotFoundError when absent.
	GetRun(ctx context.Context, runID string) (*Run, error)
	SearchRuns(ctx context.Context, q RunQuery) ([]*Run, error)

	// LogParam records a parameter. Re-logging the same value is a no-op;
	// changing a logged value is a ValidationError.
	LogParam(ctx context.Context, runID, key, value string) error
	// LogMetric records the latest value of a metric.
	LogMetric(ctx context.Context, runID, key string, value float64) error
	SetTag(ctx context.Context, runID, key, value string) error
	// UpdateRun finalizes a RUNNING run.
	UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error

	Close() error
}

// toMillis truncates t to the millisecond precision stored for timestamps.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func validateNewRun(run *Run) error {
	if run == nil {
		return errors.NewValidationError("run", "is nil", nil)
	}
	if run.ID == "" || run.ExperimentID == "" {
		return errors.NewValidationError("run", "id and experiment id are required", run.ID)
	}
	if run.Status != StatusRunning {
		return errors.NewValidationError("run.status", "new runs must be RUNNING", run.Status)
	}
	return nil
}

func validateFinalStatus(status RunStatus) error {
	if !status.Terminal() {
		return errors.NewValidationError("run.status", "must be FINISHED or FAILED", status)
	}
	return nil
}

func paramConflict(runID, key, old, value string) error {
	return errors.NewValidationError("param "+key,
		"already logged for run "+runID+" with a different value "+old, value)
}
