package catalog

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
)

// Watcher serves the current catalog and reloads it when the file changes.
// A reload that fails validation keeps the previous catalog.
type Watcher struct {
	path    string
	current atomic.Pointer[Catalog]
}

func NewWatcher(path string) (*Watcher, error) {
	cat, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: filepath.Clean(path)}
	w.current.Store(cat)
	return w, nil
}

func (w *Watcher) Catalog() *Catalog {
	return w.current.Load()
}

func (w *Watcher) Lookup(name string) (Endpoint, bool) {
	return w.Catalog().Lookup(name)
}

// Run watches the directory holding the file, so editors that replace the
// file by rename are picked up too. It returns when ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = logging.WithAttrs(ctx,
		slog.String("component", "catalog.watcher"),
		slog.String("path", w.path),
	)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create fsnotify watcher")
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return errs.Wrapf(err, "watch %q", filepath.Dir(w.path))
	}
	logging.Info(ctx, "watching endpoints file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("fsnotify events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload(ctx)
		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("fsnotify errors channel closed")
			}
			logging.Warn(ctx, "fsnotify error", slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cat, err := Load(w.path)
	if err != nil {
		logging.Warn(ctx, "endpoints reload rejected, keeping previous catalog", slog.Any("err", errs.Loggable(err)))
		return
	}
	w.current.Store(cat)
	logging.Info(ctx, "endpoints reloaded", slog.Int("endpoints", cat.Len()))
}
