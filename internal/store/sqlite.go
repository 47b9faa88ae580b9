package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/irrigation-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS training_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	label_source TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	finished_at  DATETIME,
	rows         INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	accuracy     REAL NOT NULL DEFAULT 0,
	checksum     TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_training_runs_status ON training_runs(status);
CREATE INDEX IF NOT EXISTS idx_training_runs_started_at ON training_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTrainingRun(ctx context.Context, src model.LabelSource) (*model.TrainingRun, error) {
	run := &model.TrainingRun{
		ID:          uuid.New().String(),
		Status:      model.RunStatusRunning,
		LabelSource: src,
		StartedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO training_runs (id, status, label_source, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), string(run.LabelSource), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert training run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishTrainingRun(ctx context.Context, run *model.TrainingRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE training_runs
		 SET status = ?, finished_at = ?, rows = ?, skipped = ?, accuracy = ?, checksum = ?, error = ?
		 WHERE id = ?`,
		string(run.Status), *run.FinishedAt, run.Rows, run.Skipped, run.Accuracy, run.Checksum, run.Error, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish training run %s", run.ID)
	}
	return checkRowsAffected(res, run.ID)
}

const sqliteSelectRun = `SELECT id, status, label_source, started_at, finished_at, rows, skipped, accuracy, checksum, error FROM training_runs`

func (s *SQLiteStore) GetTrainingRun(ctx context.Context, id string) (*model.TrainingRun, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectRun+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get training run %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListTrainingRuns(ctx context.Context, filter RunFilter) ([]model.TrainingRun, error) {
	query := sqliteSelectRun + ` WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list training runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.TrainingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan training run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list training runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.TrainingRun, error) {
	var r model.TrainingRun
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.Status, &r.LabelSource, &r.StartedAt, &finished,
		&r.Rows, &r.Skipped, &r.Accuracy, &r.Checksum, &r.Error)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
