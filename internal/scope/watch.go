package scope

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher marks an Expander's graph stale when source files change.
// fsnotify is not recursive, so every directory is registered individually
// and new directories are added as they appear.
type Watcher struct {
	watcher  *fsnotify.Watcher
	expander *Expander
	logger   *zap.Logger
	debounce time.Duration
}

// NewWatcher registers every directory under the expander's root.
func NewWatcher(e *Expander, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("scope: create file watcher: %w", err)
	}
	w := &Watcher{
		watcher:  fw,
		expander: e,
		logger:   logger.Named("scope-watch"),
		debounce: 200 * time.Millisecond,
	}
	if err := w.addTree(e.Root()); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("scope: watch %q: %w", p, err)
		}
		return nil
	})
}

// relevant reports whether a change to name can alter the import graph.
func relevant(name string) bool {
	base := filepath.Base(name)
	return languageOf(base) != langNone || base == "go.mod"
}

// Run invalidates the graph on source changes. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("watch new directory", zap.Error(err))
					}
					w.expander.Invalidate()
					continue
				}
			}
			if !relevant(event.Name) || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			name := event.Name
			debounce = time.AfterFunc(w.debounce, func() {
				w.expander.Invalidate()
				w.logger.Debug("dependency graph marked stale", zap.String("file", name))
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
