package template

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

// Cache memoizes Solve per goal. Concurrent first requests for the same goal
// share one computation. The cache is not shared across processes.
type Cache struct {
	mu     sync.RWMutex
	cfg    *policy.Config
	byGoal map[string]Template
	group  singleflight.Group
	logger *zap.Logger

	// OnCompute, if set, is called after each uncached computation.
	OnCompute func(goal string)
}

// NewCache creates a cache over cfg.
func NewCache(cfg *policy.Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:    cfg,
		byGoal: make(map[string]Template),
		logger: logger.Named("template"),
	}
}

// Get returns the template for goal, computing it at most once per config.
// The returned capability slice is a copy.
func (c *Cache) Get(goal string) Template {
	c.mu.RLock()
	t, ok := c.byGoal[goal]
	cfg := c.cfg
	c.mu.RUnlock()
	if ok {
		return clone(t)
	}

	v, _, _ := c.group.Do(goal, func() (any, error) {
		c.mu.RLock()
		if t, ok := c.byGoal[goal]; ok {
			c.mu.RUnlock()
			return t, nil
		}
		c.mu.RUnlock()

		t := Solve(cfg, goal)
		c.logger.Debug("template computed",
			zap.String("goal", goal),
			zap.Int("budget", t.Budget),
			zap.Int("risk", t.Risk),
			zap.Int("utility", t.Utility),
			zap.Int("capabilities", len(t.Capabilities)),
		)
		if c.OnCompute != nil {
			c.OnCompute(goal)
		}

		c.mu.Lock()
		// Drop results computed against a config that has since been replaced.
		if c.cfg == cfg {
			c.byGoal[goal] = t
		}
		c.mu.Unlock()
		return t, nil
	})
	return clone(v.(Template))
}

// Reset swaps the configuration and clears every memoized template.
func (c *Cache) Reset(cfg *policy.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg != nil {
		c.cfg = cfg
	}
	c.byGoal = make(map[string]Template)
}

// Len returns the number of memoized goals.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byGoal)
}

func clone(t Template) Template {
	t.Capabilities = append(t.Capabilities[:0:0], t.Capabilities...)
	return t
}
