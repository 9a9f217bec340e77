package scope

import (
	"context"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Bo-Vane/agent-safeBoundary/internal/metrics"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
)

// Options configure an Expander.
type Options struct {
	// Prefix is prepended to every scope entry. Defaults to the root's base name.
	Prefix      string
	DepthLimit  int
	MaxNodes    int
	MaxFiles    int
	Timeout     time.Duration
	SourceRoots []string
	TestRoots   []string
}

// Expander computes scope bounds against a lazily built dependency graph.
// Safe for concurrent use.
type Expander struct {
	root    string
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	graph *DepGraph
	stale atomic.Bool
	build singleflight.Group
}

// NewExpander creates an expander for the tree at root. The graph is not
// built until the first expansion.
func NewExpander(root string, opts Options, logger *zap.Logger, m *metrics.Metrics) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if opts.Prefix == "" {
		opts.Prefix = filepath.Base(filepath.Clean(root))
	}
	opts.Prefix = strings.Trim(model.NormalizePath(opts.Prefix), "/")
	e := &Expander{
		root:    root,
		opts:    opts,
		logger:  logger.Named("scope"),
		metrics: m,
	}
	e.stale.Store(true)
	return e
}

// Prefix returns the repository prefix used in scope entries.
func (e *Expander) Prefix() string { return e.opts.Prefix }

// Root returns the directory the graph is built from.
func (e *Expander) Root() string { return e.root }

// Invalidate marks the graph stale; the next expansion rebuilds it.
func (e *Expander) Invalidate() { e.stale.Store(true) }

// Graph returns the current dependency graph, rebuilding it if stale.
// Concurrent callers share a single rebuild.
func (e *Expander) Graph(ctx context.Context) (*DepGraph, error) {
	if !e.stale.Load() {
		e.mu.RLock()
		g := e.graph
		e.mu.RUnlock()
		if g != nil {
			return g, nil
		}
	}

	v, err, _ := e.build.Do("graph", func() (any, error) {
		// Clear first so changes during the build mark it stale again.
		e.stale.Store(false)

		bctx := ctx
		if e.opts.Timeout > 0 {
			var cancel context.CancelFunc
			bctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
			defer cancel()
		}

		start := time.Now()
		g, err := BuildGraph(bctx, e.root, GraphOptions{
			MaxFiles:    e.opts.MaxFiles,
			SourceRoots: e.opts.SourceRoots,
			Logger:      e.logger,
			OnDegraded:  func(string) { e.metrics.DegradedFiles.Inc() },
		})
		if err != nil {
			e.stale.Store(true)
			return nil, err
		}
		e.metrics.GraphBuildDuration.Observe(time.Since(start).Seconds())
		e.metrics.GraphFiles.Set(float64(len(g.Files)))

		e.mu.Lock()
		e.graph = g
		e.mu.Unlock()
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DepGraph), nil
}

// Expand computes the scope bound for anchors.
//
// Without anchors the whole repository is in scope. Otherwise the path and
// test anchors seed the set, which then grows through forward and reverse
// imports for at most DepthLimit rounds. Sensitive entries are removed after
// every round. Files under source roots add their directory wildcard; files
// under test roots add the test root wildcard.
//
// A graph that cannot be built degrades to the seeds alone. Only ctx
// cancellation by the caller is returned as an error.
func (e *Expander) Expand(ctx context.Context, anchors map[string]string, org *orgpolicy.OrgPolicy) ([]model.PathPattern, error) {
	start := time.Now()
	if org == nil {
		org = orgpolicy.NewDefault()
	}

	var result []model.PathPattern
	defer func() {
		e.metrics.ExpansionDuration.Observe(time.Since(start).Seconds())
		e.metrics.ScopeSize.Observe(float64(len(result)))
	}()

	if len(anchors) == 0 {
		result = e.finish(map[string]struct{}{e.opts.Prefix + "/**": {}}, org)
		return result, nil
	}

	scope := make(map[string]struct{})
	for _, kind := range []string{model.AnchorPath, model.AnchorTest} {
		if v, ok := anchors[kind]; ok && strings.TrimSpace(v) != "" {
			scope[e.withPrefix(stripSelector(v))] = struct{}{}
		}
	}
	e.removeSensitive(scope, org)

	g, err := e.Graph(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("dependency graph unavailable, using anchors only", zap.Error(err))
		g = emptyGraph(e.root)
	}

	deadline := time.Time{}
	if e.opts.Timeout > 0 {
		deadline = start.Add(e.opts.Timeout)
	}

rounds:
	for depth := 0; depth < e.opts.DepthLimit; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		added := 0
		for _, entry := range sortedKeys(scope) {
			rel, ok := e.concrete(entry, g)
			if !ok {
				continue
			}
			for _, n := range append(g.Deps(rel), g.ReverseDeps(rel)...) {
				key := e.opts.Prefix + "/" + n
				if _, seen := scope[key]; seen {
					continue
				}
				if e.opts.MaxNodes > 0 && len(scope) >= e.opts.MaxNodes {
					e.logger.Warn("scope expansion truncated",
						zap.Int("max_nodes", e.opts.MaxNodes),
						zap.Int("depth", depth),
					)
					break rounds
				}
				scope[key] = struct{}{}
				added++
			}
		}
		e.removeSensitive(scope, org)
		if added == 0 {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			e.logger.Warn("scope expansion deadline reached", zap.Int("depth", depth+1))
			break
		}
	}

	e.addWildcards(scope)
	result = e.finish(scope, org)
	return result, nil
}

// withPrefix normalizes an anchor value to a prefixed scope entry.
func (e *Expander) withPrefix(v string) string {
	v = strings.TrimLeft(model.NormalizePath(v), "/")
	if v == e.opts.Prefix || strings.HasPrefix(v, e.opts.Prefix+"/") {
		return v
	}
	return e.opts.Prefix + "/" + v
}

// concrete maps a scope entry to a graph file, skipping patterns.
func (e *Expander) concrete(entry string, g *DepGraph) (string, bool) {
	if model.IsPattern(entry) {
		return "", false
	}
	rel := strings.TrimPrefix(entry, e.opts.Prefix+"/")
	return rel, g.Has(rel)
}

func (e *Expander) removeSensitive(scope map[string]struct{}, org *orgpolicy.OrgPolicy) {
	for entry := range scope {
		if hit, pattern := org.Forbidden(entry, e.opts.Prefix); hit {
			e.logger.Debug("sensitive path removed from scope",
				zap.String("entry", entry),
				zap.String("pattern", pattern),
			)
			delete(scope, entry)
		}
	}
}

func (e *Expander) addWildcards(scope map[string]struct{}) {
	extra := make(map[string]struct{})
	for entry := range scope {
		if model.IsPattern(entry) || languageOf(entry) == langNone {
			continue
		}
		rel := strings.TrimPrefix(entry, e.opts.Prefix+"/")
		if root, ok := underRoot(rel, e.opts.TestRoots); ok {
			extra[e.opts.Prefix+"/"+root+"/**"] = struct{}{}
			continue
		}
		if _, ok := underRoot(rel, e.opts.SourceRoots); ok {
			extra[e.opts.Prefix+"/"+path.Dir(rel)+"/**"] = struct{}{}
		}
	}
	for k := range extra {
		scope[k] = struct{}{}
	}
}

func (e *Expander) finish(scope map[string]struct{}, org *orgpolicy.OrgPolicy) []model.PathPattern {
	e.removeSensitive(scope, org)
	out := make([]model.PathPattern, 0, len(scope))
	for k := range scope {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func underRoot(rel string, roots []string) (string, bool) {
	for _, r := range roots {
		r = strings.Trim(model.NormalizePath(r), "/")
		if r != "" && strings.HasPrefix(rel, r+"/") {
			return r, true
		}
	}
	return "", false
}

// stripSelector drops an in-file test selector: "tests/t.py::test_x" -> "tests/t.py".
func stripSelector(v string) string {
	if i := strings.Index(v, "::"); i >= 0 {
		return v[:i]
	}
	return v
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
