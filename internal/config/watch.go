package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const reloadDebounce = 150 * time.Millisecond

// Watcher reloads config.yaml into a Snapshot whenever the file changes,
// debouncing rapid successive writes the way editors/atomic-replace tools
// produce them.
type Watcher struct {
	snapshot *Snapshot
	path     string
	args     []string
	fsw      *fsnotify.Watcher
}

// WatchYAML starts watching dataDir/config.yaml's parent directory (fsnotify
// needs a directory handle to see atomic-replace renames) and applies
// changes to snapshot. The returned Watcher must be stopped with Close.
func WatchYAML(ctx context.Context, snapshot *Snapshot, dataDir string) (*Watcher, error) {
	path := filepath.Join(dataDir, "config.yaml")
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{snapshot: snapshot, path: path, fsw: fsw}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	reload := func() {
		cur := w.snapshot.Load()
		next := *cur
		applyYAMLOverlay(&next, w.path)
		w.snapshot.Store(&next)
		log.Info("config: reloaded config.yaml")
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = w.fsw.Close()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config: watcher error")
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
