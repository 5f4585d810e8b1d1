package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// LocalStore keeps runs in a SQLite database under root and copies
// artifacts into root/artifacts.
type LocalStore struct {
	root string
	db   *sql.DB
}

// NewLocalStore opens (creating when needed) the store rooted at root.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve tracking root %s", root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create tracking root %s", abs)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		filepath.Join(abs, DatabaseFile))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// Writes are serialised by SQLite anyway.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &LocalStore{root: abs, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	return s, nil
}

// Root returns the absolute store directory.
func (s *LocalStore) Root() string {
	return s.root
}

// Close closes the database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *LocalStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// retryOnBusy retries op while SQLite reports the database as locked, on
// top of the busy_timeout pragma.
func (s *LocalStore) retryOnBusy(op func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "SQLITE_BUSY") {
			return err
		}
		time.Sleep(time.Duration(10*(1<<uint(i))) * time.Millisecond)
	}
	return errors.Wrapf(err, "operation failed after %d retries", maxRetries)
}

func (s *LocalStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		artifact_location TEXT NOT NULL,
		lifecycle_stage TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		name TEXT,
		status TEXT NOT NULL,
		artifact_uri TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		FOREIGN KEY (experiment_id) REFERENCES experiments(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_experiment_id ON runs(experiment_id);

	CREATE TABLE IF NOT EXISTS params (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		PRIMARY KEY (run_id, key),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tags (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS registered_models (
		name TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_versions (
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		source TEXT NOT NULL,
		run_id TEXT,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (name, version),
		FOREIGN KEY (name) REFERENCES registered_models(name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetExperimentByName looks the experiment up by name.
func (s *LocalStore) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	var e models.Experiment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, artifact_location, lifecycle_stage, created_at FROM experiments WHERE name = ?`, name,
	).Scan(&e.ID, &e.Name, &e.ArtifactLocation, &e.LifecycleStage, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("experiment not found: %s", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get experiment")
	}
	return &e, nil
}

// ListExperiments returns every experiment, oldest first.
func (s *LocalStore) ListExperiments(ctx context.Context) ([]*models.Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, artifact_location, lifecycle_stage, created_at FROM experiments ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list experiments")
	}
	defer rows.Close()

	out := make([]*models.Experiment, 0)
	for rows.Next() {
		var e models.Experiment
		if err := rows.Scan(&e.ID, &e.Name, &e.ArtifactLocation, &e.LifecycleStage, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan experiment")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CreateExperiment creates an experiment and returns its id.
func (s *LocalStore) CreateExperiment(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.Validationf("experiment name is required")
	}
	id := uuid.NewString()
	location := filepath.Join(s.root, "artifacts", id)
	err := s.retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO experiments (id, name, artifact_location, lifecycle_stage, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, name, location, "active", time.Now().UTC())
		return err
	}, 5)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", errors.Newf("experiment already exists: %s", name)
		}
		return "", errors.Wrap(err, "failed to create experiment")
	}
	return id, nil
}

// CreateRun starts a RUNNING run in the experiment.
func (s *LocalStore) CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (*models.Run, error) {
	var location string
	err := s.db.QueryRowContext(ctx, `SELECT artifact_location FROM experiments WHERE id = ?`, experimentID).Scan(&location)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("experiment not found: %s", experimentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get experiment")
	}

	run := &models.Run{
		ID:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		ExperimentID: experimentID,
		Name:         runName,
		Status:       models.RunStatusRunning,
		StartTime:    time.Now().UTC(),
		Params:       map[string]string{},
		Metrics:      map[string]float64{},
		Tags:         map[string]string{},
	}
	run.ArtifactURI = filepath.Join(location, run.ID, "artifacts")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, experiment_id, name, status, artifact_uri, start_time) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ExperimentID, run.Name, string(run.Status), run.ArtifactURI, run.StartTime,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create run")
	}
	for k, v := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO tags (run_id, key, value) VALUES (?, ?, ?)`, run.ID, k, v); err != nil {
			return nil, errors.Wrap(err, "failed to save tag")
		}
		run.Tags[k] = v
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit run")
	}
	return run, nil
}

func (s *LocalStore) requireRun(ctx context.Context, runID string) (string, error) {
	var uri string
	err := s.db.QueryRowContext(ctx, `SELECT artifact_uri FROM runs WHERE id = ?`, runID).Scan(&uri)
	if err == sql.ErrNoRows {
		return "", errors.NotFoundf("run not found: %s", runID)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get run")
	}
	return uri, nil
}

// LogBatch stores params and the latest value of each metric. NaN metrics
// are skipped.
func (s *LocalStore) LogBatch(ctx context.Context, runID string, params map[string]string, metrics map[string]float64) error {
	if _, err := s.requireRun(ctx, runID); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for k, v := range params {
			if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO params (run_id, key, value) VALUES (?, ?, ?)`, runID, k, v); err != nil {
				return errors.Wrap(err, "failed to save param")
			}
		}
		for k, v := range metrics {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO metrics (run_id, key, value, timestamp) VALUES (?, ?, ?, ?)`, runID, k, v, now,
			); err != nil {
				return errors.Wrap(err, "failed to save metric")
			}
		}
		return tx.Commit()
	}, 5)
}

// LogArtifact copies the file into the run's artifact directory.
func (s *LocalStore) LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	root, err := s.requireRun(ctx, runID)
	if err != nil {
		return err
	}
	destDir := filepath.Join(root, filepath.FromSlash(artifactPath))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create artifact directory %s", destDir)
	}
	return copyFile(localPath, filepath.Join(destDir, filepath.Base(localPath)))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open artifact %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "failed to copy %s", src)
	}
	return out.Close()
}

// UpdateRun sets the run status and, for terminal states, its end time.
func (s *LocalStore) UpdateRun(ctx context.Context, runID string, status models.RunStatus) error {
	var end *time.Time
	if status != models.RunStatusRunning {
		now := time.Now().UTC()
		end = &now
	}
	var res sql.Result
	err := s.retryOnBusy(func() error {
		var err error
		res, err = s.db.ExecContext(ctx, `UPDATE runs SET status = ?, end_time = ? WHERE id = ?`, string(status), end, runID)
		return err
	}, 5)
	if err != nil {
		return errors.Wrap(err, "failed to update run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("run not found: %s", runID)
	}
	return nil
}

// SearchRuns returns every run of the experiments with params, metrics and
// tags, newest first.
func (s *LocalStore) SearchRuns(ctx context.Context, experimentIDs []string) ([]*models.Run, error) {
	if len(experimentIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(experimentIDs)), ",")
	args := make([]any, len(experimentIDs))
	for i, id := range experimentIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, name, status, artifact_uri, start_time, end_time
		 FROM runs WHERE experiment_id IN (`+placeholders+`) ORDER BY start_time DESC, id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search runs")
	}

	runs := make([]*models.Run, 0)
	byID := make(map[string]*models.Run)
	for rows.Next() {
		var (
			r      models.Run
			name   sql.NullString
			status string
			end    sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.ExperimentID, &name, &status, &r.ArtifactURI, &r.StartTime, &end); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan run")
		}
		r.Name = name.String
		r.Status = models.RunStatus(status)
		if end.Valid {
			t := end.Time
			r.EndTime = &t
		}
		r.Params = map[string]string{}
		r.Metrics = map[string]float64{}
		r.Tags = map[string]string{}
		runs = append(runs, &r)
		byID[r.ID] = &r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to search runs")
	}

	for _, table := range []string{"params", "tags"} {
		if err := s.loadPairs(ctx, table, byID); err != nil {
			return nil, err
		}
	}
	if err := s.loadMetrics(ctx, byID); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *LocalStore) loadPairs(ctx context.Context, table string, byID map[string]*models.Run) error {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, key, value FROM `+table)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var runID, k, v string
		if err := rows.Scan(&runID, &k, &v); err != nil {
			return errors.Wrapf(err, "failed to scan %s", table)
		}
		r, ok := byID[runID]
		if !ok {
			continue
		}
		if table == "params" {
			r.Params[k] = v
		} else {
			r.Tags[k] = v
		}
	}
	return rows.Err()
}

func (s *LocalStore) loadMetrics(ctx context.Context, byID map[string]*models.Run) error {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, key, value FROM metrics`)
	if err != nil {
		return errors.Wrap(err, "failed to load metrics")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			runID, k string
			v        float64
		)
		if err := rows.Scan(&runID, &k, &v); err != nil {
			return errors.Wrap(err, "failed to scan metric")
		}
		if r, ok := byID[runID]; ok {
			r.Metrics[k] = v
		}
	}
	return rows.Err()
}

// CreateModelVersion registers source as the next version of name.
func (s *LocalStore) CreateModelVersion(ctx context.Context, name, source, runID string) (*models.ModelVersion, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.Validationf("model name is required")
	}
	mv := &models.ModelVersion{
		Name:      name,
		Source:    source,
		RunID:     runID,
		Status:    "READY",
		CreatedAt: time.Now().UTC(),
	}
	err := s.retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO registered_models (name, created_at) VALUES (?, ?)`, name, mv.CreatedAt,
		); err != nil {
			return err
		}
		var version int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE name = ?`, name,
		).Scan(&version); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO model_versions (name, version, source, run_id, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			name, version, source, runID, mv.Status, mv.CreatedAt,
		); err != nil {
			return err
		}
		mv.Version = strconv.Itoa(version)
		return tx.Commit()
	}, 5)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create model version")
	}
	return mv, nil
}

// UpdateModelVersion sets the description of a model version.
func (s *LocalStore) UpdateModelVersion(ctx context.Context, name, version, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE model_versions SET description = ? WHERE name = ? AND version = ?`, description, name, version)
	if err != nil {
		return errors.Wrap(err, "failed to update model version")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("model version not found: %s/%s", name, version)
	}
	return nil
}

// ListModelVersions returns every version of name, oldest first.
func (s *LocalStore) ListModelVersions(ctx context.Context, name string) ([]*models.ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, source, run_id, description, status, created_at
		 FROM model_versions WHERE name = ? ORDER BY version`, name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list model versions")
	}
	defer rows.Close()

	out := make([]*models.ModelVersion, 0)
	for rows.Next() {
		var (
			mv      models.ModelVersion
			version int
			runID   sql.NullString
		)
		if err := rows.Scan(&mv.Name, &version, &mv.Source, &runID, &mv.Description, &mv.Status, &mv.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan model version")
		}
		mv.Version = strconv.Itoa(version)
		mv.RunID = runID.String
		out = append(out, &mv)
	}
	return out, rows.Err()
}
