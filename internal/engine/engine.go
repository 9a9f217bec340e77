// Package engine wires the requirement graph, boundary computation and
// authorizer into one process-wide facade used by every transport.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bo-Vane/agent-safeBoundary/internal/audit"
	"github.com/Bo-Vane/agent-safeBoundary/internal/authorize"
	"github.com/Bo-Vane/agent-safeBoundary/internal/boundary"
	"github.com/Bo-Vane/agent-safeBoundary/internal/eventstore"
	"github.com/Bo-Vane/agent-safeBoundary/internal/graph"
	"github.com/Bo-Vane/agent-safeBoundary/internal/metrics"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/redact"
	"github.com/Bo-Vane/agent-safeBoundary/internal/scope"
	"github.com/Bo-Vane/agent-safeBoundary/internal/template"
)

// DefaultLeaseTTL applies when a caller passes a zero ttl.
const DefaultLeaseTTL = 10 * time.Minute

// Options configure an Engine. Root is required; everything else has a default.
type Options struct {
	Root       string
	Prefix     string
	Policy     *policy.Config
	PolicyHash string
	Org        *orgpolicy.OrgPolicy
	OrgHash    string
	LeaseTTL   time.Duration

	// Audit and Store are optional and owned by the caller.
	Audit *audit.Log
	Store *eventstore.Store

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine is safe for concurrent use.
type Engine struct {
	graph      *graph.Graph
	templates  *template.Cache
	expander   *scope.Expander
	computer   *boundary.Computer
	authorizer *authorize.Authorizer

	audit   *audit.Log
	store   *eventstore.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	ttl     time.Duration

	mu         sync.RWMutex
	org        *orgpolicy.OrgPolicy
	policyHash string
	orgHash    string
}

// New builds an engine. When a store is given, its events are replayed into
// the graph before new events are accepted.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Root == "" {
		return nil, errors.New("engine: root is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics(nil)
	}
	if opts.Policy == nil {
		opts.Policy = policy.DefaultConfig()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if opts.Org == nil {
		opts.Org = orgpolicy.NewDefault()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}

	cfg := opts.Policy
	m := opts.Metrics
	templates := template.NewCache(cfg, opts.Logger)
	templates.OnCompute = func(goal string) {
		m.TemplateComputations.WithLabelValues(goal).Inc()
	}
	expander := scope.NewExpander(opts.Root, expanderOptions(cfg, opts.Prefix), opts.Logger, m)
	computer := boundary.NewComputer(cfg, templates, expander)

	e := &Engine{
		graph:      graph.New(opts.Logger, m),
		templates:  templates,
		expander:   expander,
		computer:   computer,
		authorizer: authorize.New(computer, opts.Logger, m),
		audit:      opts.Audit,
		store:      opts.Store,
		logger:     opts.Logger.Named("engine"),
		metrics:    m,
		ttl:        opts.LeaseTTL,
		org:        opts.Org,
		policyHash: opts.PolicyHash,
		orgHash:    opts.OrgHash,
	}

	if e.store != nil {
		events, err := e.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: load events: %w", err)
		}
		if err := e.graph.Replay(events); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		if len(events) > 0 {
			e.logger.Info("graph restored", zap.Int("events", len(events)), zap.String("active_rid", e.graph.ActiveRID()))
		}
		e.graph.AddSink(e.persist)
	}
	if e.audit != nil {
		e.graph.AddSink(e.recordEvent)
	}
	return e, nil
}

func expanderOptions(cfg *policy.Config, prefix string) scope.Options {
	return scope.Options{
		Prefix:      prefix,
		DepthLimit:  cfg.Scope.DepthLimit,
		MaxNodes:    cfg.Scope.MaxNodes,
		MaxFiles:    cfg.Scope.MaxFiles,
		Timeout:     cfg.Scope.Timeout,
		SourceRoots: cfg.Scope.SourceRoots,
		TestRoots:   cfg.Scope.TestRoots,
	}
}

// persist is the event-store sink. Free text is scrubbed of credentials;
// the in-memory node keeps the raw output.
func (e *Engine) persist(ev model.GraphEvent) {
	if err := e.store.Append(context.Background(), redact.Event(ev)); err != nil {
		e.logger.Error("event store append failed", zap.Uint64("seq", ev.Seq), zap.Error(err))
	}
}

// recordEvent is the audit sink.
func (e *Engine) recordEvent(ev model.GraphEvent) {
	if err := e.audit.Record(audit.EventEntry(redact.Event(ev), e.PolicyHash())); err != nil {
		e.logger.Error("audit record failed", zap.Uint64("seq", ev.Seq), zap.Error(err))
	}
}

// Graph exposes the requirement graph.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// Expander exposes the scope expander, for the source watcher.
func (e *Engine) Expander() *scope.Expander { return e.expander }

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// LeaseTTL is the default lease lifetime.
func (e *Engine) LeaseTTL() time.Duration { return e.ttl }

// Policy returns the current policy tables.
func (e *Engine) Policy() *policy.Config { return e.computer.Config() }

// PolicyHash returns the hash of the loaded policy file.
func (e *Engine) PolicyHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policyHash
}

// Org returns the current organization policy.
func (e *Engine) Org() *orgpolicy.OrgPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.org
}

// resolve maps an empty rid to the active node.
func (e *Engine) resolve(rid string) (string, error) {
	if rid != "" {
		return rid, nil
	}
	active := e.graph.ActiveRID()
	if active == "" {
		return "", graph.ErrNoActiveNode
	}
	return active, nil
}

// OrgHash returns the hash of the loaded organization policy file.
func (e *Engine) OrgHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orgHash
}
