package lexicon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval lets rapid write+rename event bursts settle before reloading.
const debounceInterval = 100 * time.Millisecond

// Watch reloads the lexicon whenever its override file changes on disk.
// It watches the parent directory rather than the file itself so atomic
// replaces (write temp, rename) are caught. Blocks until ctx is done.
func (l *Lexicon) Watch(ctx context.Context, logger *slog.Logger) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	name := filepath.Base(l.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.InfoContext(ctx, "watching lexicon file", "path", l.path)

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				if err := l.Reload(); err != nil {
					logger.WarnContext(ctx, "lexicon reload failed", "error", err)
					return
				}
				logger.InfoContext(ctx, "lexicon reloaded", "path", l.path)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "lexicon watcher error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}
