package tracking

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
	"github.com/YuminosukeSato/tabflow/pkg/log"
)

// Client records runs through a Store and an ArtifactRepository.
type Client struct {
	store     Store
	artifacts *ArtifactRepository
	now       func() time.Time
	newID     func() string
	logger    log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger used for run lifecycle events.
func WithLogger(l log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a Client over store and artifacts.
func NewClient(store Store, artifacts *ArtifactRepository, opts ...ClientOption) *Client {
	c := &Client{
		store:     store,
		artifacts: artifacts,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		logger:    log.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens the SQLite store at dbPath and an artifact repository at artifactRoot.
func Open(ctx context.Context, dbPath, artifactRoot string, opts ...ClientOption) (*Client, error) {
	store, err := OpenSqlStore(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return NewClient(store, NewArtifactRepository(artifactRoot), opts...), nil
}

// Close closes the underlying store.
func (c *Client) Close() error {
	return c.store.Close()
}

// GetOrCreateExperiment returns the named experiment, creating it if needed.
func (c *Client) GetOrCreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	exp, err := c.store.GetExperimentByName(ctx, name)
	if err == nil {
		return exp, nil
	}
	var nf *errors.ExperimentNotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}

	id := c.newID()
	exp = &Experiment{
		ID:               id,
		Name:             name,
		ArtifactLocation: c.artifacts.ExperimentLocation(id),
		CreatedAt:        c.now(),
	}
	if err := c.store.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	c.logger.Info("Experiment created", log.ExperimentKey, name, "experiment.id", id)
	return exp, nil
}

// StartRun creates a RUNNING run in the named experiment.
func (c *Client) StartRun(ctx context.Context, experimentName string) (*ActiveRun, error) {
	exp, err := c.GetOrCreateExperiment(ctx, experimentName)
	if err != nil {
		return nil, err
	}
	id := c.newID()
	run := &Run{
		ID:           id,
		ExperimentID: exp.ID,
		Status:       StatusRunning,
		StartTime:    c.now(),
		ArtifactURI:  c.artifacts.RunURI(exp.ID, id),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	c.logger.Info("Run started", log.ExperimentKey, experimentName, log.RunIDKey, id)
	return &ActiveRun{
		client:       c,
		id:           id,
		experiment:   experimentName,
		experimentID: exp.ID,
		artifactURI:  run.ArtifactURI,
	}, nil
}

// GetRun returns a run by id.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	return c.store.GetRun(ctx, runID)
}

// ListRuns returns the runs of the named experiment, newest first.
func (c *Client) ListRuns(ctx context.Context, experimentName string) ([]*Run, error) {
	exp, err := c.store.GetExperimentByName(ctx, experimentName)
	if err != nil {
		return nil, err
	}
	return c.store.SearchRuns(ctx, RunQuery{ExperimentID: exp.ID})
}

// LatestFinishedRun returns the FINISHED run of the named experiment with the
// latest start time. It fails with ExperimentNotFoundError for an unknown
// experiment and NoFinishedRunError when no run has finished.
func (c *Client) LatestFinishedRun(ctx context.Context, experimentName string) (*Run, error) {
	exp, err := c.store.GetExperimentByName(ctx, experimentName)
	if err != nil {
		return nil, err
	}
	runs, err := c.store.SearchRuns(ctx, RunQuery{
		ExperimentID: exp.ID,
		Status:       StatusFinished,
		MaxResults:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.NewNoFinishedRunError(experimentName)
	}
	return runs[0], nil
}

// OpenArtifact opens an artifact of the run.
func (c *Client) OpenArtifact(run *Run, relPath string) (io.ReadCloser, error) {
	return c.artifacts.Open(run.ArtifactURI, relPath)
}

// ListArtifacts returns the artifact paths of the run.
func (c *Client) ListArtifacts(run *Run) ([]string, error) {
	return c.artifacts.List(run.ArtifactURI)
}

// ActiveRun is the handle of a RUNNING run. It is finalized once with End.
type ActiveRun struct {
	client       *Client
	id           string
	experiment   string
	experimentID string
	artifactURI  string

	mu    sync.Mutex
	ended bool
}

// ID returns the run id.
func (r *ActiveRun) ID() string { return r.id }

// ExperimentID returns the id of the experiment the run belongs to.
func (r *ActiveRun) ExperimentID() string { return r.experimentID }

// ArtifactURI returns the run's artifact directory.
func (r *ActiveRun) ArtifactURI() string { return r.artifactURI }

// LogParam records one parameter.
func (r *ActiveRun) LogParam(ctx context.Context, key, value string) error {
	return r.client.store.LogParam(ctx, r.id, key, value)
}

// LogParams records parameters in key order.
func (r *ActiveRun) LogParams(ctx context.Context, params map[string]string) error {
	for _, k := range sortedKeys(params) {
		if err := r.LogParam(ctx, k, params[k]); err != nil {
			return err
		}
	}
	return nil
}

// LogMetric records one metric.
func (r *ActiveRun) LogMetric(ctx context.Context, key string, value float64) error {
	if err := errors.CheckScalar("metric "+key, value); err != nil {
		return err
	}
	return r.client.store.LogMetric(ctx, r.id, key, value)
}

// LogMetrics records metrics in key order.
func (r *ActiveRun) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	for _, k := range sortedKeys(metrics) {
		if err := r.LogMetric(ctx, k, metrics[k]); err != nil {
			return err
		}
	}
	return nil
}

// SetTag sets one tag.
func (r *ActiveRun) SetTag(ctx context.Context, key, value string) error {
	return r.client.store.SetTag(ctx, r.id, key, value)
}

// LogArtifact writes an artifact at relPath inside the run's artifact directory.
func (r *ActiveRun) LogArtifact(relPath string, write func(w io.Writer) error) error {
	if err := r.client.artifacts.Write(r.artifactURI, relPath, write); err != nil {
		return err
	}
	r.client.logger.Debug("Artifact logged", log.RunIDKey, r.id, log.ArtifactKey, relPath)
	return nil
}

// End finalizes the run with status. Only the first call has an effect on the
// store; later calls return ErrRunFinalized.
func (r *ActiveRun) End(ctx context.Context, status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return errors.Wrapf(ErrRunFinalized, "run %s", r.id)
	}
	if err := r.client.store.UpdateRun(ctx, r.id, status, r.client.now()); err != nil {
		return err
	}
	r.ended = true
	r.client.logger.Info("Run ended", log.ExperimentKey, r.experiment, log.RunIDKey, r.id, log.RunStatusKey, string(status))
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
