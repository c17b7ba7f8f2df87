package tileset_list

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-scans the root directory whenever its contents change and hands
// every successfully built Registry to onScan.
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration
	onScan   func(*Registry)
	logger   *zap.Logger
}

func NewWatcher(scanner *Scanner, debounce time.Duration, onScan func(*Registry), logger *zap.Logger) *Watcher {
	return &Watcher{
		scanner:  scanner,
		debounce: debounce,
		onScan:   onScan,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.scanner.RootDir()); err != nil {
		return err
	}

	w.logger.Info("Watching data directory", zap.String("root", w.scanner.RootDir()))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				// New subdirectories need their own watch.
				if err := w.addTree(fw, event.Name); err != nil {
					w.logger.Debug("Failed to watch new path", zap.String("path", event.Name), zap.Error(err))
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))

		case <-timer.C:
			registry, err := w.scanner.Scan()
			if err != nil {
				w.logger.Error("Rescan failed, keeping previous tilesets", zap.Error(err))
				continue
			}
			w.onScan(registry)
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
