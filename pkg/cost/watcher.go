package cost

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// RateWatcher hot-reloads a rate table file when it changes on disk.
// The parent directory is watched rather than the file itself so that
// atomic-rename writes (the common editor and config-management pattern)
// are picked up.
type RateWatcher struct {
	table   *RateTable
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewRateWatcher creates a watcher for the given rate table file.
// The file is loaded once before watching begins.
func NewRateWatcher(table *RateTable, path string, logger *slog.Logger) (*RateWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := table.LoadFile(path); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	return &RateWatcher{
		table:   table,
		path:    path,
		watcher: fw,
		logger:  logger,
	}, nil
}

// Watch blocks, reloading the rate table on every write or rename of the
// file, until ctx is cancelled. Reload failures are logged and the previous
// rates stay in effect.
func (w *RateWatcher) Watch(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.table.LoadFile(w.path); err != nil {
				w.logger.Warn("rate table reload failed, keeping previous rates",
					"path", w.path,
					"error", err,
				)
				continue
			}
			w.logger.Info("rate table reloaded", "path", w.path, "entries", w.table.Len())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rate table watch error", "error", err)
		}
	}
}
