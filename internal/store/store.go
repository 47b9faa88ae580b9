package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/model"
)

// ErrNotFound is returned when a training run does not exist.
var ErrNotFound = eris.New("store: training run not found")

// RunFilter specifies criteria for listing training runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store persists the history of retraining runs.
type Store interface {
	CreateTrainingRun(ctx context.Context, src model.LabelSource) (*model.TrainingRun, error)
	// FinishTrainingRun records the terminal state of run. FinishedAt is
	// stamped when unset.
	FinishTrainingRun(ctx context.Context, run *model.TrainingRun) error
	GetTrainingRun(ctx context.Context, id string) (*model.TrainingRun, error)
	ListTrainingRuns(ctx context.Context, filter RunFilter) ([]model.TrainingRun, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns a migrated Store for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "sqlite", "":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 50
	}
	return n
}
