package classify

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads rules into c whenever the file at path changes.
// It blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, c *KeywordClassifier, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

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
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rules, err := LoadRules(path)
			if err != nil {
				logger.Warn("classifier reload failed", zap.String("path", path), zap.Error(err))
				continue
			}
			if err := c.Replace(rules); err != nil {
				logger.Warn("classifier rules rejected", zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("classifier rules reloaded", zap.String("path", path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("classifier watcher error", zap.Error(err))
		}
	}
}
