package assets

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"kraina-desktop/utils"
)

// DefaultDebounce is the quiet period before a burst of changes triggers a reload
const DefaultDebounce = 300 * time.Millisecond

// Watcher reloads a Registry when files below its asset directories change
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *utils.Logger
}

// NewWatcher watches every asset directory of registry and its sub folders
func NewWatcher(registry *Registry, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{registry: registry, watcher: fw, debounce: debounce, logger: registry.logger}

	dirs := append(append([]string{}, registry.assistantDirs...), registry.snippetDirs...)
	for _, dir := range dirs {
		w.addRecursive(dir)
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Cannot watch %s: %v", path, err)
		}
		return nil
	})
}

// Run processes events until ctx is done, then closes the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addRecursive(event.Name)
				}
			}
			w.logger.Debug("Asset change: %s", event)
			pending = true
			timer.Reset(w.debounce)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if err := w.registry.Reload(); err != nil {
				w.logger.Error("Asset reload failed, keeping previous assets: %v", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Asset watcher error: %v", err)
		}
	}
}
