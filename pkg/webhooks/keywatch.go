package webhooks

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/galaxyhub/pkg/observability"
)

// WatchTravisPublicKey reloads the Travis key into h whenever the file at
// path is rewritten, until ctx is done. The parent directory is watched so
// that rotations done by renaming a new file into place are seen too. A key
// that fails to parse is logged and the previous key stays in use.
func WatchTravisPublicKey(ctx context.Context, path string, h *InboundHandlers, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create key watcher: %w", err)
	}
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	logger = logger.WithField("path", path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				key, err := LoadTravisPublicKey(path)
				if err != nil {
					logger.WithError(err).Warn("Ignoring unreadable travis public key")
					continue
				}
				h.SetTravisPublicKey(key)
				logger.Info("Reloaded travis public key")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Key watcher error")
			}
		}
	}()
	return nil
}
