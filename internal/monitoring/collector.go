package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/store"
)

// scanLimit caps how many runs a single collection inspects.
const scanLimit = 1000

// Snapshot holds a point-in-time view of retraining health.
type Snapshot struct {
	// Retrain runs started within the lookback window.
	RetrainTotal     int     `json:"retrain_total"`
	RetrainSucceeded int     `json:"retrain_succeeded"`
	RetrainFailed    int     `json:"retrain_failed"`
	RetrainNoData    int     `json:"retrain_no_data"`
	RetrainRunning   int     `json:"retrain_running"`
	RetrainFailRate  float64 `json:"retrain_fail_rate"`

	// Most recent succeeded run, inside the window or not. Nil when no run
	// has ever succeeded.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastAccuracy  float64    `json:"last_accuracy"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListTrainingRuns(ctx context.Context, filter store.RunFilter) ([]model.TrainingRun, error)
}

// Collector gathers retraining health from the run store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new collector over runs.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect builds a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Runs come back newest first.
	runs, err := c.runs.ListTrainingRuns(ctx, store.RunFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list training runs")
	}

	for _, r := range runs {
		if r.Status == model.RunStatusSucceeded && snap.LastSuccessAt == nil {
			at := r.StartedAt
			if r.FinishedAt != nil {
				at = *r.FinishedAt
			}
			snap.LastSuccessAt = &at
			snap.LastAccuracy = r.Accuracy
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RetrainTotal++
		switch r.Status {
		case model.RunStatusSucceeded:
			snap.RetrainSucceeded++
		case model.RunStatusFailed:
			snap.RetrainFailed++
		case model.RunStatusNoData:
			snap.RetrainNoData++
		case model.RunStatusRunning:
			snap.RetrainRunning++
		}
	}

	if finished := snap.RetrainSucceeded + snap.RetrainFailed; finished > 0 {
		snap.RetrainFailRate = float64(snap.RetrainFailed) / float64(finished)
	}
	return snap, nil
}
