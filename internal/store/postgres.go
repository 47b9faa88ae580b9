package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS training_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status       TEXT NOT NULL DEFAULT 'running',
	label_source TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ,
	rows         INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	accuracy     DOUBLE PRECISION NOT NULL DEFAULT 0,
	checksum     TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_training_runs_status ON training_runs(status);
CREATE INDEX IF NOT EXISTS idx_training_runs_started_at ON training_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateTrainingRun(ctx context.Context, src model.LabelSource) (*model.TrainingRun, error) {
	run := &model.TrainingRun{
		ID:          uuid.New().String(),
		Status:      model.RunStatusRunning,
		LabelSource: src,
		StartedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO training_runs (id, status, label_source, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), string(run.LabelSource), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert training run")
	}
	return run, nil
}

func (s *PostgresStore) FinishTrainingRun(ctx context.Context, run *model.TrainingRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE training_runs
		 SET status = $1, finished_at = $2, rows = $3, skipped = $4, accuracy = $5, checksum = $6, error = $7
		 WHERE id = $8`,
		string(run.Status), *run.FinishedAt, run.Rows, run.Skipped, run.Accuracy, run.Checksum, run.Error, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish training run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", run.ID)
	}
	return nil
}

const postgresSelectRun = `SELECT id, status, label_source, started_at, finished_at, rows, skipped, accuracy, checksum, error FROM training_runs`

func (s *PostgresStore) GetTrainingRun(ctx context.Context, id string) (*model.TrainingRun, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx, postgresSelectRun+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get training run %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListTrainingRuns(ctx context.Context, filter RunFilter) ([]model.TrainingRun, error) {
	query := postgresSelectRun + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list training runs")
	}
	defer rows.Close()

	var runs []model.TrainingRun
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan training run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list training runs iterate")
}

func scanPostgresRun(row scannable) (*model.TrainingRun, error) {
	var r model.TrainingRun
	var status, src string
	var finished *time.Time
	err := row.Scan(&r.ID, &status, &src, &r.StartedAt, &finished,
		&r.Rows, &r.Skipped, &r.Accuracy, &r.Checksum, &r.Error)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.LabelSource = model.LabelSource(src)
	r.FinishedAt = finished
	return &r, nil
}
