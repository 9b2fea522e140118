package mapfeed

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the map file each time it is written or created. It runs
// until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that atomic
// saves (write to a temp file, rename over the target) and a file that
// appears after startup are both picked up. If a reload fails the error is
// logged and the previous objects remain active.
func (f *Feed) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mapfeed: create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(f.path)
	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("mapfeed: watch %s: %w", dir, err)
	}

	f.logger.Info("mapfeed: watching for changes", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// Only reload on write or create events. Editors often write via
			// rename (atomic save), which arrives as Create for target.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := f.Load(); err != nil {
				f.logger.Error("mapfeed: reload failed, keeping previous objects", "err", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Error("mapfeed: watcher error", "err", err)
		}
	}
}
