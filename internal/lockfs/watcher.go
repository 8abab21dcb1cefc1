// Watches locked study folders and reports mutations made by other processes.

package lockfs

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher surfaces writes to locked study folders that the in-memory lock
// cannot prevent (other processes, editors, sync tools). It only warns; the
// permission hardener is the enforcement layer.
type Watcher struct {
	w   *fsnotify.Watcher
	reg *Registry
	log *slog.Logger
}

// NewWatcher starts a watcher that runs until ctx is cancelled.
func NewWatcher(ctx context.Context, reg *Registry) (*Watcher, error) {
	return newWatcher(ctx, reg, slog.Default())
}

func newWatcher(ctx context.Context, reg *Registry, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{w: fw, reg: reg, log: log}
	go w.run(ctx)
	return w, nil
}

// Watch adds a study folder to the watch set.
func (w *Watcher) Watch(path string) error {
	return w.w.Add(Normalize(path))
}

// WatchLocked adds every currently locked folder to the watch set and returns
// the paths being watched.
func (w *Watcher) WatchLocked() ([]string, error) {
	paths := w.reg.LockedPaths()
	for _, p := range paths {
		if err := w.w.Add(p); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer func() { _ = w.w.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			dir := filepath.Dir(event.Name)
			if w.reg.IsLocked(dir) || w.reg.IsLocked(event.Name) {
				w.log.WarnContext(ctx, "Locked study folder modified by another process", "path", event.Name, "op", event.Op.String())
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.log.WarnContext(ctx, "Error watching locked study folders", "err", err)
		}
	}
}
