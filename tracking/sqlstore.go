package tracking

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// OpenSqlStore opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory if it does not exist.
func OpenSqlStore(ctx context.Context, path string) (*SqlStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create tracking store dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite はライターが1つなので接続も1本に絞る
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	s := &SqlStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return errors.Wrap(err, "enable foreign keys")
	}
	if _, err := s.db.ExecContext(ctx, schemaV1); err != nil {
		return errors.Wrap(err, "create schema")
	}
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return errors.Wrap(err, "set schema version")
		}
		return nil
	case err != nil:
		return errors.Wrap(err, "read schema version")
	case v != schemaVersion:
		return errors.Newf("unknown tracking schema version %d", v)
	}
	return nil
}

func (s *SqlStore) CreateExperiment(ctx context.Context, exp *Experiment) error {
	if exp == nil || exp.ID == "" || exp.Name == "" {
		return errors.NewValidationError("experiment", "id and name are required", exp)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO experiments(id, name, artifact_location, created_at) VALUES(?, ?, ?, ?)",
		exp.ID, exp.Name, exp.ArtifactLocation, toMillis(exp.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewValidationError("experiment.name", "already exists", exp.Name)
		}
		return errors.Wrap(err, "insert experiment")
	}
	return nil
}

func (s *SqlStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var (
		exp       Experiment
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, artifact_location, created_at FROM experiments WHERE name = ?", name,
	).Scan(&exp.ID, &exp.Name, &exp.ArtifactLocation, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewExperimentNotFoundError(name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get experiment")
	}
	exp.CreatedAt = fromMillis(createdAt)
	return &exp, nil
}

func (s *SqlStore) CreateRun(ctx context.Context, run *Run) error {
	if err := validateNewRun(run); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin run tx")
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM experiments WHERE id = ?", run.ExperimentID).Scan(&n); err != nil {
		return errors.Wrap(err, "check experiment")
	}
	if n == 0 {
		return errors.NewExperimentNotFoundError(run.ExperimentID)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO runs(id, experiment_id, status, start_time, artifact_uri) VALUES(?, ?, ?, ?, ?)",
		run.ID, run.ExperimentID, string(run.Status), toMillis(run.StartTime), run.ArtifactURI)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewValidationError("run.id", "already exists", run.ID)
		}
		return errors.Wrap(err, "insert run")
	}
	for table, kv := range map[string]map[string]string{"params": run.Params, "tags": run.Tags} {
		for k, v := range kv {
			if _, err := tx.ExecContext(ctx, "INSERT INTO "+table+"(run_id, key, value) VALUES(?, ?, ?)", run.ID, k, v); err != nil {
				return errors.Wrapf(err, "insert %s", table)
			}
		}
	}
	for k, v := range run.Metrics {
		if _, err := tx.ExecContext(ctx, "INSERT INTO metrics(run_id, key, value) VALUES(?, ?, ?)", run.ID, k, v); err != nil {
			return errors.Wrap(err, "insert metrics")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit run tx")
	}
	return nil
}

const runColumns = "id, experiment_id, status, start_time, end_time, artifact_uri"

func (s *SqlStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewRunNotFoundError(runID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get run")
	}
	if err := s.loadChildren(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SqlStore) SearchRuns(ctx context.Context, q RunQuery) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE experiment_id = ?"
	args := []any{q.ExperimentID}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	query += " ORDER BY start_time DESC, rowid DESC"
	if q.MaxResults > 0 {
		query += " LIMIT ?"
		args = append(args, q.MaxResults)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "search runs")
	}
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, "iterate runs")
	}
	// 接続が1本なので子テーブルの読み込み前に閉じる
	_ = rows.Close()

	for _, run := range runs {
		if err := s.loadChildren(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SqlStore) LogParam(ctx context.Context, runID, key, value string) error {
	return s.inRunningTx(ctx, runID, func(tx *sql.Tx) error {
		var old string
		err := tx.QueryRowContext(ctx, "SELECT value FROM params WHERE run_id = ? AND key = ?", runID, key).Scan(&old)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, "INSERT INTO params(run_id, key, value) VALUES(?, ?, ?)", runID, key, value)
			return errors.Wrap(err, "insert param")
		case err != nil:
			return errors.Wrap(err, "read param")
		case old != value:
			return paramConflict(runID, key, old, value)
		}
		return nil
	})
}

func (s *SqlStore) LogMetric(ctx context.Context, runID, key string, value float64) error {
	return s.inRunningTx(ctx, runID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO metrics(run_id, key, value) VALUES(?, ?, ?)
			 ON CONFLICT(run_id, key) DO UPDATE SET value = excluded.value`, runID, key, value)
		return errors.Wrap(err, "upsert metric")
	})
}

func (s *SqlStore) SetTag(ctx context.Context, runID, key, value string) error {
	return s.inRunningTx(ctx, runID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tags(run_id, key, value) VALUES(?, ?, ?)
			 ON CONFLICT(run_id, key) DO UPDATE SET value = excluded.value`, runID, key, value)
		return errors.Wrap(err, "upsert tag")
	})
}

func (s *SqlStore) UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error {
	if err := validateFinalStatus(status); err != nil {
		return err
	}
	return s.inRunningTx(ctx, runID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE runs SET status = ?, end_time = ? WHERE id = ?",
			string(status), toMillis(end), runID)
		return errors.Wrap(err, "update run")
	})
}

// Close closes the database.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// inRunningTx runs fn in a transaction after checking the run exists and is RUNNING.
func (s *SqlStore) inRunningTx(ctx context.Context, runID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewRunNotFoundError(runID)
	}
	if err != nil {
		return errors.Wrap(err, "read run status")
	}
	if RunStatus(status) != StatusRunning {
		return errors.Wrapf(ErrRunFinalized, "run %s is %s", runID, status)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run    Run
		status string
		start  int64
		end    sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.ExperimentID, &status, &start, &end, &run.ArtifactURI); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.StartTime = fromMillis(start)
	if end.Valid {
		run.EndTime = fromMillis(end.Int64)
	}
	run.Params = map[string]string{}
	run.Metrics = map[string]float64{}
	run.Tags = map[string]string{}
	return &run, nil
}

func (s *SqlStore) loadChildren(ctx context.Context, run *Run) error {
	for table, dst := range map[string]map[string]string{"params": run.Params, "tags": run.Tags} {
		rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM "+table+" WHERE run_id = ?", run.ID)
		if err != nil {
			return errors.Wrapf(err, "load %s", table)
		}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				_ = rows.Close()
				return errors.Wrapf(err, "scan %s", table)
			}
			dst[k] = v
		}
		if err := rows.Close(); err != nil {
			return errors.Wrapf(err, "close %s", table)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM metrics WHERE run_id = ?", run.ID)
	if err != nil {
		return errors.Wrap(err, "load metrics")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			v float64
		)
		if err := rows.Scan(&k, &v); err != nil {
			return errors.Wrap(err, "scan metrics")
		}
		run.Metrics[k] = v
	}
	return errors.Wrap(rows.Err(), "iterate metrics")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
