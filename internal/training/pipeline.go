// Package training rebuilds the irrigation classifier from the Decision
// Log and commits it atomically.
package training

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/classifier"
	"github.com/sells-group/irrigation-cli/internal/decisionlog"
	"github.com/sells-group/irrigation-cli/internal/encoder"
	"github.com/sells-group/irrigation-cli/internal/metrics"
	"github.com/sells-group/irrigation-cli/internal/model"
)

// RunRecorder persists training run history. store.Store satisfies it.
type RunRecorder interface {
	CreateTrainingRun(ctx context.Context, src model.LabelSource) (*model.TrainingRun, error)
	FinishTrainingRun(ctx context.Context, run *model.TrainingRun) error
}

// Config selects the artifact destination, label source and forest shape.
type Config struct {
	ModelPath   string
	LabelSource model.LabelSource
	Params      classifier.Params
}

// Result describes a committed retrain.
type Result struct {
	Run      *model.TrainingRun    `json:"run"`
	Skipped  []model.RowParseError `json:"skipped_rows,omitempty"`
	Artifact *classifier.Artifact  `json:"-"`
}

// Pipeline retrains from a Decision Log snapshot.
type Pipeline struct {
	log      *decisionlog.Log
	cfg      Config
	runs     RunRecorder
	metrics  *metrics.Metrics
	onCommit func(*classifier.Artifact)

	mu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRunRecorder records every run, including failed and empty ones.
func WithRunRecorder(r RunRecorder) Option {
	return func(p *Pipeline) { p.runs = r }
}

// WithMetrics counts runs and their duration.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCommitHook is called with the new artifact after it is on disk,
// typically to swap it into a running Predictor.
func WithCommitHook(fn func(*classifier.Artifact)) Option {
	return func(p *Pipeline) { p.onCommit = fn }
}

// New returns a Pipeline. An empty LabelSource means moisture.
func New(log *decisionlog.Log, cfg Config, opts ...Option) *Pipeline {
	if cfg.LabelSource == "" {
		cfg.LabelSource = model.LabelSourceMoisture
	}
	p := &Pipeline{log: log, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Retrain fits a new classifier on every valid Decision Log row and
// replaces the artifact. Rows that fail to parse are skipped and reported.
// With no usable rows it returns model.ErrNoTrainingData and leaves the
// existing artifact untouched. Concurrent calls are serialized.
func (p *Pipeline) Retrain(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	run := p.startRun(ctx)
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("label_source", string(run.LabelSource)))

	res, err := p.retrain(ctx, run)
	switch {
	case err == nil:
		run.Status = model.RunStatusSucceeded
	case errors.Is(err, model.ErrNoTrainingData):
		run.Status = model.RunStatusNoData
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = model.RunStatusCancelled
	default:
		run.Status = model.RunStatusFailed
	}
	if err != nil {
		run.Error = err.Error()
	}
	p.finishRun(run)
	p.metrics.Retrain(string(run.Status), time.Since(start))

	if err != nil {
		log.Warn("training: retrain did not commit", zap.String("status", string(run.Status)), zap.Error(err))
		return nil, err
	}
	log.Info("training: retrain committed",
		zap.Int("rows", run.Rows),
		zap.Int("skipped", run.Skipped),
		zap.Float64("accuracy", run.Accuracy),
		zap.String("checksum", run.Checksum),
		zap.Duration("took", time.Since(start)),
	)
	res.Run = run
	return res, nil
}

func (p *Pipeline) retrain(ctx context.Context, run *model.TrainingRun) (*Result, error) {
	if !p.cfg.LabelSource.Valid() {
		return nil, eris.Errorf("training: unknown label source %q", p.cfg.LabelSource)
	}

	recs, skipped, err := p.log.Records(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "training: snapshot decision log")
	}
	run.Skipped = len(skipped)
	for _, s := range skipped {
		zap.L().Debug("training: skipped row", zap.Int("line", s.Line), zap.String("reason", s.Reason))
	}
	if len(recs) == 0 {
		return nil, eris.Wrapf(model.ErrNoTrainingData, "%d valid rows, %d skipped", 0, len(skipped))
	}

	X, y, err := Dataset(recs, p.cfg.LabelSource)
	if err != nil {
		return nil, err
	}
	run.Rows = len(X)

	forest, err := classifier.Fit(ctx, X, y, p.cfg.Params)
	if err != nil {
		return nil, err
	}
	run.Accuracy = Accuracy(forest, X, y)

	// Last chance to abandon before the artifact is replaced.
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "training: retrain cancelled")
	}

	artifact := classifier.NewArtifact(forest, p.cfg.LabelSource, run.Rows, run.Accuracy, p.cfg.Params)
	sum, err := classifier.Save(p.cfg.ModelPath, artifact)
	if err != nil {
		return nil, err
	}
	run.Checksum = sum

	if p.onCommit != nil {
		p.onCommit(artifact)
	}
	return &Result{Skipped: skipped, Artifact: artifact}, nil
}

// Dataset turns records into feature rows and labels under src.
func Dataset(recs []decisionlog.Record, src model.LabelSource) ([][]float64, []int, error) {
	X := make([][]float64, 0, len(recs))
	y := make([]int, 0, len(recs))
	for _, r := range recs {
		x, err := encoder.Vector(r.Temperature, r.Humidity, int(r.Moisture), r.Crop)
		if err != nil {
			return nil, nil, eris.Wrap(err, "training: encode row")
		}
		label := r.Prediction
		if src == model.LabelSourceMoisture {
			label = model.LabelFromMoisture(r.Moisture)
		}
		X = append(X, x)
		y = append(y, int(label))
	}
	return X, y, nil
}

// Accuracy is the fraction of rows f labels correctly.
func Accuracy(f *classifier.Forest, X [][]float64, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	correct := 0
	for i := range X {
		if f.Predict(X[i]) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X))
}

func (p *Pipeline) startRun(ctx context.Context) *model.TrainingRun {
	if p.runs != nil {
		run, err := p.runs.CreateTrainingRun(ctx, p.cfg.LabelSource)
		if err == nil {
			return run
		}
		zap.L().Warn("training: record run start", zap.Error(err))
	}
	return &model.TrainingRun{
		ID:          uuid.New().String(),
		Status:      model.RunStatusRunning,
		LabelSource: p.cfg.LabelSource,
		StartedAt:   time.Now().UTC(),
	}
}

func (p *Pipeline) finishRun(run *model.TrainingRun) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if p.runs == nil {
		return
	}
	// The caller's context may already be cancelled; the outcome is still
	// worth recording.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.runs.FinishTrainingRun(ctx, run); err != nil {
		zap.L().Warn("training: record run finish", zap.String("run_id", run.ID), zap.Error(err))
	}
}
