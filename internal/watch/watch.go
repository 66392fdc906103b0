// Package watch re-runs an action when a compilation log file changes.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/model"
)

// Watcher monitors one file. Bursts of writes are coalesced and the action
// runs once the file has been quiet for the debounce period.
type Watcher struct {
	path     string
	debounce time.Duration
	fw       *fsnotify.Watcher
	log      logrus.FieldLogger

	modTime time.Time
	size    int64
}

// New watches path. The containing directory is watched so that editors
// and log rotation that replace the file are still seen.
func New(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", path, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch: stat %s: %w", abs, err)
	}
	if debounce <= 0 {
		debounce = model.DefaultWatchDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		debounce: debounce,
		fw:       fw,
		log:      logrus.WithField("component", "watch"),
		modTime:  st.ModTime(),
		size:     st.Size(),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Run blocks until ctx is done, calling onChange after each settled change.
// Errors from onChange are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context) error) error {
	defer w.fw.Close()

	tick := w.debounce / 4
	if tick <= 0 {
		tick = w.debounce
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var pending time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.Now()
			}

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			if !w.changed() {
				continue
			}
			w.log.WithField("path", w.path).Info("watch: log changed, re-running")
			if err := onChange(ctx); err != nil {
				w.log.WithError(err).Warn("watch: re-run failed")
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("watch: watcher error")
		}
	}
}

// changed reports whether the file differs from the last seen state and
// records the new state.
func (w *Watcher) changed() bool {
	st, err := os.Stat(w.path)
	if err != nil {
		w.log.WithError(err).Debug("watch: file not readable yet")
		return false
	}
	if st.ModTime().Equal(w.modTime) && st.Size() == w.size {
		return false
	}
	w.modTime = st.ModTime()
	w.size = st.Size()
	return true
}
