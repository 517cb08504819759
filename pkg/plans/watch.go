package plans

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Logger is the subset of logging used by WatchFile
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// WatchFile calls onChange whenever the file at path is written, created or
// replaced. It watches the parent directory so atomic renames are observed.
// It blocks until ctx is cancelled.
func WatchFile(ctx context.Context, path string, onChange func(), logger Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				if logger != nil {
					logger.Infof("catalog file changed: %s", ev.Name)
				}
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Warnf("catalog watcher error: %v", err)
			}
		}
	}
}
