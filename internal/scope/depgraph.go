// Package scope turns requirement anchors into an allowed path-pattern set by
// bounded closure over the repository's import graph.
package scope

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/modfile"
	"golang.org/x/sync/errgroup"
)

// ErrTooManyFiles is returned when the walk exceeds GraphOptions.MaxFiles.
var ErrTooManyFiles = errors.New("scope: source tree exceeds file limit")

// DepGraph is the forward and reverse import graph of a source tree.
// Keys are root-relative, "/"-separated file paths. Read-only once built.
type DepGraph struct {
	Root     string
	Files    []string
	Degraded []string
	BuiltAt  time.Time

	forward map[string]map[string]struct{}
	reverse map[string]map[string]struct{}
	known   map[string]struct{}
}

// Has reports whether rel is a file in the graph.
func (g *DepGraph) Has(rel string) bool {
	_, ok := g.known[rel]
	return ok
}

// Deps returns what rel imports, sorted.
func (g *DepGraph) Deps(rel string) []string { return sortedSet(g.forward[rel]) }

// ReverseDeps returns the files importing rel, sorted.
func (g *DepGraph) ReverseDeps(rel string) []string { return sortedSet(g.reverse[rel]) }

// Edges returns the number of forward edges.
func (g *DepGraph) Edges() int {
	n := 0
	for _, deps := range g.forward {
		n += len(deps)
	}
	return n
}

func emptyGraph(root string) *DepGraph {
	return &DepGraph{
		Root:     root,
		Files:    []string{},
		Degraded: []string{},
		BuiltAt:  time.Now(),
		forward:  map[string]map[string]struct{}{},
		reverse:  map[string]map[string]struct{}{},
		known:    map[string]struct{}{},
	}
}

// GraphOptions bound the walk.
type GraphOptions struct {
	MaxFiles    int
	SourceRoots []string
	Logger      *zap.Logger
	// OnDegraded is called once per file whose imports could not be read.
	OnDegraded func(rel string)
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
}

// BuildGraph walks root once, parses Go and Python imports, and resolves them
// to repository files. Unreadable or unparsable files get an empty
// dependency set. Only an unreadable root, a file-limit breach or ctx
// cancellation is an error.
func BuildGraph(ctx context.Context, root string, opts GraphOptions) (*DepGraph, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("depgraph")

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scope: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scope: root %s is not a directory", root)
	}

	g := emptyGraph(root)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: skip it, keep walking.
			logger.Warn("walk error", zap.String("path", p), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if languageOf(d.Name()) == langNone {
			return nil
		}
		if opts.MaxFiles > 0 && len(g.Files) >= opts.MaxFiles {
			return ErrTooManyFiles
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		g.Files = append(g.Files, rel)
		g.known[rel] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scope: walk %s: %w", root, err)
	}
	sort.Strings(g.Files)

	r := newResolver(root, g, opts.SourceRoots)

	// Parse in parallel; each file yields its own resolved dependency set.
	deps := make([][]string, len(g.Files))
	degraded := make([]bool, len(g.Files))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, rel := range g.Files {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			imports, err := parseImports(filepath.Join(root, filepath.FromSlash(rel)), rel)
			if err != nil {
				degraded[i] = true
				logger.Warn("degraded dependency resolution",
					zap.String("file", rel),
					zap.Error(err),
				)
				return nil
			}
			deps[i] = r.resolve(rel, imports)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("scope: parse imports: %w", err)
	}

	for i, rel := range g.Files {
		if degraded[i] {
			g.Degraded = append(g.Degraded, rel)
			if opts.OnDegraded != nil {
				opts.OnDegraded(rel)
			}
		}
		for _, dep := range deps[i] {
			if dep == rel {
				continue
			}
			addEdge(g.forward, rel, dep)
			addEdge(g.reverse, dep, rel)
		}
	}
	g.BuiltAt = time.Now()

	logger.Debug("dependency graph built",
		zap.String("root", root),
		zap.Int("files", len(g.Files)),
		zap.Int("edges", g.Edges()),
		zap.Int("degraded", len(g.Degraded)),
	)
	return g, nil
}

func addEdge(m map[string]map[string]struct{}, from, to string) {
	set, ok := m[from]
	if !ok {
		set = make(map[string]struct{})
		m[from] = set
	}
	set[to] = struct{}{}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// resolver maps import strings to repository files.
type resolver struct {
	g           *DepGraph
	sourceRoots []string
	goModule    string

	once    sync.Once
	goByDir map[string][]string
}

func newResolver(root string, g *DepGraph, sourceRoots []string) *resolver {
	r := &resolver{g: g, sourceRoots: sourceRoots}
	if data, err := os.ReadFile(filepath.Join(root, "go.mod")); err == nil {
		r.goModule = modfile.ModulePath(data)
	}
	return r
}

func (r *resolver) resolve(rel string, imports []importRef) []string {
	var out []string
	for _, imp := range imports {
		switch imp.lang {
		case langGo:
			out = append(out, r.resolveGo(imp.module)...)
		case langPython:
			out = append(out, r.resolvePython(rel, imp)...)
		}
	}
	return out
}

// resolveGo maps an import path inside the main module to every Go file of
// the target package directory. External imports resolve to nothing.
func (r *resolver) resolveGo(importPath string) []string {
	if r.goModule == "" {
		return nil
	}
	var dir string
	switch {
	case importPath == r.goModule:
		dir = "."
	case strings.HasPrefix(importPath, r.goModule+"/"):
		dir = strings.TrimPrefix(importPath, r.goModule+"/")
	default:
		return nil
	}

	r.once.Do(func() {
		r.goByDir = make(map[string][]string)
		for _, f := range r.g.Files {
			if languageOf(f) == langGo {
				d := path.Dir(f)
				r.goByDir[d] = append(r.goByDir[d], f)
			}
		}
	})
	return r.goByDir[dir]
}

// resolvePython maps a dotted module to a .py file or package __init__.py,
// trying the repository root first and then each source root.
func (r *resolver) resolvePython(rel string, imp importRef) []string {
	var bases []string
	if imp.level > 0 {
		dir := path.Dir(rel)
		for i := 1; i < imp.level; i++ {
			dir = path.Dir(dir)
		}
		bases = []string{dir}
	} else {
		bases = append([]string{"."}, r.sourceRoots...)
	}

	modPath := strings.ReplaceAll(imp.module, ".", "/")
	for _, base := range bases {
		var out []string
		if found := r.lookupPython(base, modPath); found != "" {
			out = append(out, found)
		}
		// "from pkg import mod" may name a submodule.
		for _, name := range imp.names {
			if sub := r.lookupPython(base, path.Join(modPath, name)); sub != "" {
				out = append(out, sub)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func (r *resolver) lookupPython(base, modPath string) string {
	if modPath == "" {
		return r.existing(path.Join(base, "__init__.py"))
	}
	if f := r.existing(path.Join(base, modPath+".py")); f != "" {
		return f
	}
	return r.existing(path.Join(base, modPath, "__init__.py"))
}

func (r *resolver) existing(rel string) string {
	rel = path.Clean(rel)
	if r.g.Has(rel) {
		return rel
	}
	return ""
}
