package predictor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the create+rename burst of an atomic save.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the artifact whenever its file is replaced, until ctx is
// done. The parent directory is watched because atomic saves replace the
// file by rename, which drops a watch on the file itself. Reload failures
// are logged and the previous artifact stays in service.
func (p *Predictor) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "predictor: create artifact dir")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "predictor: create watcher")
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(dir); err != nil {
		return eris.Wrap(err, "predictor: watch artifact dir")
	}

	target := filepath.Clean(p.path)
	log := zap.L().With(zap.String("path", target))
	log.Info("predictor: watching artifact")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("predictor: watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			if err := p.Reload(); err != nil {
				log.Warn("predictor: reload failed, keeping previous artifact", zap.Error(err))
			}
		}
	}
}
