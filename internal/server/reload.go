package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

// Reloader watches the policy and organization files and swaps them into
// the engine on change. A file that fails to load leaves the previous
// tables in place.
type Reloader struct {
	watcher    *fsnotify.Watcher
	engine     *engine.Engine
	logger     *zap.Logger
	policyPath string
	orgPath    string

	// Debounce is the quiet period after the last write before reloading.
	Debounce time.Duration
}

// NewReloader watches the directories holding policyPath and orgPath, so
// files created after startup and editor rename-saves are seen. Empty paths
// are skipped.
func NewReloader(eng *engine.Engine, policyPath, orgPath string, logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: create file watcher: %w", err)
	}

	dirs := map[string]bool{}
	for _, p := range []string{policyPath, orgPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("server: watch %q: %w", dir, err)
		}
		dirs[dir] = true
	}

	return &Reloader{
		watcher:    watcher,
		engine:     eng,
		logger:     logger.Named("reload"),
		policyPath: policyPath,
		orgPath:    orgPath,
		Debounce:   500 * time.Millisecond,
	}, nil
}

// Run reloads on change. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var (
		mu      sync.Mutex
		pending = map[string]bool{}
		timer   *time.Timer
	)
	flush := func() {
		mu.Lock()
		names := pending
		pending = map[string]bool{}
		mu.Unlock()
		for name := range names {
			r.reload(name)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			if name != filepath.Clean(r.policyPath) && name != filepath.Clean(r.orgPath) {
				continue
			}
			mu.Lock()
			pending[name] = true
			mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.Debounce, flush)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

// reload loads one file into the engine.
func (r *Reloader) reload(name string) {
	switch name {
	case filepath.Clean(r.policyPath):
		if err := r.ReloadPolicy(); err != nil {
			r.logger.Error("policy reload failed", zap.String("path", name), zap.Error(err))
		}
	case filepath.Clean(r.orgPath):
		if err := r.ReloadOrg(); err != nil {
			r.logger.Error("organization policy reload failed", zap.String("path", name), zap.Error(err))
		}
	}
}

// ReloadPolicy reads the policy file now.
func (r *Reloader) ReloadPolicy() error {
	cfg, hash, err := policy.LoadConfigWithHash(r.policyPath)
	if err != nil {
		r.engine.Metrics().PolicyReloads.WithLabelValues("error").Inc()
		return err
	}
	return r.engine.ReloadPolicy(cfg, hash)
}

// ReloadOrg reads the organization policy file now.
func (r *Reloader) ReloadOrg() error {
	org, hash, err := orgpolicy.LoadWithHash(r.orgPath)
	if err != nil {
		r.engine.Metrics().PolicyReloads.WithLabelValues("error").Inc()
		return err
	}
	r.engine.ReloadOrg(org, hash)
	return nil
}
