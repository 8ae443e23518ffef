package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// MemStore implements Store in memory.
type MemStore struct {
	mu          sync.Mutex
	experiments map[string]*Experiment // by id
	byName      map[string]string
	runs        map[string]*memRun
	seq         int
}

type memRun struct {
	run *Run
	seq int
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		experiments: make(map[string]*Experiment),
		byName:      make(map[string]string),
		runs:        make(map[string]*memRun),
	}
}

func (s *MemStore) CreateExperiment(_ context.Context, exp *Experiment) error {
	if exp == nil || exp.ID == "" || exp.Name == "" {
		return errors.NewValidationError("experiment", "id and name are required", exp)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byName[exp.Name]; dup {
		return errors.NewValidationError("experiment.name", "already exists", exp.Name)
	}
	cp := *exp
	cp.CreatedAt = fromMillis(toMillis(exp.CreatedAt))
	s.experiments[exp.ID] = &cp
	s.byName[exp.Name] = exp.ID
	return nil
}

func (s *MemStore) GetExperimentByName(_ context.Context, name string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, errors.NewExperimentNotFoundError(name)
	}
	cp := *s.experiments[id]
	return &cp, nil
}

func (s *MemStore) CreateRun(_ context.Context, run *Run) error {
	if err := validateNewRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[run.ExperimentID]; !ok {
		return errors.NewExperimentNotFoundError(run.ExperimentID)
	}
	if _, dup := s.runs[run.ID]; dup {
		return errors.NewValidationError("run.id", "already exists", run.ID)
	}
	cp := cloneRun(run)
	cp.StartTime = fromMillis(toMillis(run.StartTime))
	cp.EndTime = time.Time{}
	s.seq++
	s.runs[run.ID] = &memRun{run: cp, seq: s.seq}
	return nil
}

func (s *MemStore) GetRun(_ context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, errors.NewRunNotFoundError(runID)
	}
	return cloneRun(r.run), nil
}

func (s *MemStore) SearchRuns(_ context.Context, q RunQuery) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]*memRun, 0, len(s.runs))
	for _, r := range s.runs {
		if r.run.ExperimentID != q.ExperimentID {
			continue
		}
		if q.Status != "" && r.run.Status != q.Status {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.run.StartTime.Equal(b.run.StartTime) {
			return a.run.StartTime.After(b.run.StartTime)
		}
		return a.seq > b.seq
	})
	if q.MaxResults > 0 && len(matched) > q.MaxResults {
		matched = matched[:q.MaxResults]
	}
	out := make([]*Run, len(matched))
	for i, r := range matched {
		out[i] = cloneRun(r.run)
	}
	return out, nil
}

func (s *MemStore) LogParam(_ context.Context, runID, key, value string) error {
	return s.mutate(runID, func(r *Run) error {
		if old, ok := r.Params[key]; ok {
			if old == value {
				return nil
			}
			return paramConflict(runID, key, old, value)
		}
		r.Params[key] = value
		return nil
	})
}

func (s *MemStore) LogMetric(_ context.Context, runID, key string, value float64) error {
	return s.mutate(runID, func(r *Run) error {
		r.Metrics[key] = value
		return nil
	})
}

func (s *MemStore) SetTag(_ context.Context, runID, key, value string) error {
	return s.mutate(runID, func(r *Run) error {
		r.Tags[key] = value
		return nil
	})
}

func (s *MemStore) UpdateRun(_ context.Context, runID string, status RunStatus, end time.Time) error {
	if err := validateFinalStatus(status); err != nil {
		return err
	}
	return s.mutate(runID, func(r *Run) error {
		r.Status = status
		r.EndTime = fromMillis(toMillis(end))
		return nil
	})
}

// Close is a no-op.
func (s *MemStore) Close() error { return nil }

// mutate applies fn to a RUNNING run under the lock.
func (s *MemStore) mutate(runID string, fn func(r *Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return errors.NewRunNotFoundError(runID)
	}
	if r.run.Status != StatusRunning {
		return errors.Wrapf(ErrRunFinalized, "run %s is %s", runID, r.run.Status)
	}
	return fn(r.run)
}

func cloneRun(r *Run) *Run {
	cp := *r
	cp.Params = make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		cp.Params[k] = v
	}
	cp.Metrics = make(map[string]float64, len(r.Metrics))
	for k, v := range r.Metrics {
		cp.Metrics[k] = v
	}
	cp.Tags = make(map[string]string, len(r.Tags))
	for k, v := range r.Tags {
		cp.Tags[k] = v
	}
	return &cp
}
