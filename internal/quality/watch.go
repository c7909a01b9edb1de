package quality

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the watcher waits after the last write
// event before reloading. Editors and atomic writers truncate then
// write; reading on the first event would see an empty or partial file.
const reloadDebounce = 100 * time.Millisecond

// WatchConfig reloads the quality config whenever the file changes and
// delivers each valid new config to onChange. Reloads are debounced so
// a truncate-then-write sequence is read once, after it settles.
// Invalid configs are logged and skipped; the previous config stays in
// effect. Blocks until ctx is cancelled.
func WatchConfig(ctx context.Context, path string, onChange func(FileConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors that write via
	// rename would otherwise drop the watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	var pending <-chan time.Time
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Each event pushes the reload out again, so the read happens
			// once the writer has finished.
			pending = time.After(reloadDebounce)
		case <-pending:
			pending = nil
			cfg, err := LoadConfig(path)
			if err != nil {
				log.Printf("[quality] config reload skipped: %v", err)
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[quality] watch error: %v", err)
		}
	}
}
