// Package predictor is the consumer-facing decision API. It validates a
// Reading, encodes it and runs the currently loaded classifier artifact.
package predictor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/classifier"
	"github.com/sells-group/irrigation-cli/internal/model"
)

// Predictor serves predictions from the artifact at a fixed path. The
// loaded artifact is swapped atomically, so concurrent Predict calls see
// either the previous artifact or the fully decoded new one.
type Predictor struct {
	path    string
	current atomic.Pointer[classifier.Artifact]
	loadMu  sync.Mutex
}

// New returns a Predictor for the artifact at path. Nothing is read until
// Load, Reload or the first Predict.
func New(path string) *Predictor {
	return &Predictor{path: path}
}

// Path returns the artifact path.
func (p *Predictor) Path() string { return p.path }

// Load reads the artifact if none is loaded yet.
func (p *Predictor) Load() error {
	if p.current.Load() != nil {
		return nil
	}
	return p.Reload()
}

// Reload reads the artifact and swaps it in. On failure the previously
// loaded artifact, if any, stays in service.
func (p *Predictor) Reload() error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	a, err := classifier.Load(p.path)
	if err != nil {
		return err
	}
	p.current.Store(a)
	zap.L().Info("predictor: artifact loaded",
		zap.String("path", p.path),
		zap.Time("trained_at", a.TrainedAt),
		zap.Int("rows", a.Rows),
		zap.String("label_source", string(a.LabelSource)),
	)
	return nil
}

// Use installs an already decoded artifact, e.g. straight after training.
func (p *Predictor) Use(a *classifier.Artifact) error {
	if err := a.Validate(); err != nil {
		return eris.Wrap(model.ErrArtifactLoad, err.Error())
	}
	p.current.Store(a)
	return nil
}

// Artifact returns the artifact in service, or nil.
func (p *Predictor) Artifact() *classifier.Artifact {
	return p.current.Load()
}

// Predict validates r and classifies it. Validation failures are returned
// as *model.ValidationError before the artifact is touched. A missing or
// corrupt artifact yields model.ErrArtifactLoad.
func (p *Predictor) Predict(ctx context.Context, r model.Reading) (model.Label, error) {
	features, err := r.Features()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, eris.Wrap(err, "predictor: predict")
	}

	a := p.current.Load()
	if a == nil {
		if err := p.Load(); err != nil {
			return 0, err
		}
		a = p.current.Load()
	}
	return a.Predict(features), nil
}

// Probability is Predict's score: P(irrigation needed).
func (p *Predictor) Probability(ctx context.Context, r model.Reading) (float64, error) {
	features, err := r.Features()
	if err != nil {
		return 0, err
	}
	if err := p.Load(); err != nil {
		return 0, err
	}
	return p.current.Load().Probability(features), nil
}
