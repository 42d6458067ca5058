package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounce window for editors that write rule files in multiple events.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the rule pack whenever the file at path changes. It blocks
// until ctx is cancelled, so callers run it in its own goroutine. A rule
// pack that fails to parse is logged and skipped; the previous pack stays
// active.
func (a *Analyzer) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: most editors replace files
	// by rename, which drops a watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	var pending *time.Timer
	reload := func() {
		rules, err := LoadRules(target)
		if err != nil {
			a.logger.Warn("Rule pack reload failed, keeping previous rules",
				zap.String("path", target), zap.Error(err))
			return
		}
		if err := a.SetRules(rules); err != nil {
			a.logger.Warn("Rule pack rejected, keeping previous rules",
				zap.String("path", target), zap.Error(err))
		}
	}

	a.logger.Info("Watching rule pack", zap.String("path", target))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Error("Rules watcher error", zap.Error(err))
		}
	}
}
