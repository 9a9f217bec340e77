package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Bo-Vane/agent-safeBoundary/internal/audit"
	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
	"github.com/Bo-Vane/agent-safeBoundary/internal/eventstore"
	"github.com/Bo-Vane/agent-safeBoundary/internal/metrics"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

// policies holds the loaded policy tables and their content hashes.
type policies struct {
	cfg     *policy.Config
	cfgHash string
	org     *orgpolicy.OrgPolicy
	orgHash string
}

func loadPolicies() (policies, error) {
	var p policies
	var err error
	p.cfg, p.cfgHash, err = policy.LoadConfigWithHash(cfg.PolicyPath)
	if err != nil {
		return p, err
	}
	p.org, p.orgHash, err = orgpolicy.LoadWithHash(cfg.OrgPath)
	if err != nil {
		return p, err
	}
	return p, nil
}

// runtime is an engine plus the durable resources it writes to.
type runtime struct {
	engine   *engine.Engine
	registry *prometheus.Registry
	audit    *audit.Log
	store    *eventstore.Store
}

// openRuntime builds an engine with the audit log and event store named in
// the config. Empty paths disable the corresponding sink.
func openRuntime(ctx context.Context) (*runtime, error) {
	p, err := loadPolicies()
	if err != nil {
		return nil, err
	}

	rt := &runtime{registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.AuditLog != "" {
		if rt.audit, err = audit.Open(cfg.AuditLog); err != nil {
			return nil, err
		}
	}
	if cfg.EventDB != "" {
		if rt.store, err = eventstore.Open(cfg.EventDB); err != nil {
			rt.Close()
			return nil, err
		}
	}

	rt.engine, err = engine.New(ctx, engine.Options{
		Root:       cfg.Root,
		Prefix:     cfg.Prefix,
		Policy:     p.cfg,
		PolicyHash: p.cfgHash,
		Org:        p.org,
		OrgHash:    p.orgHash,
		LeaseTTL:   cfg.LeaseTTL,
		Audit:      rt.audit,
		Store:      rt.store,
		Logger:     logger,
		Metrics:    metrics.NewMetrics(rt.registry),
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	return rt, nil
}

// Close releases the audit log and event store.
func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			logger.Sugar().Warnf("close event store: %v", err)
		}
	}
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			logger.Sugar().Warnf("close audit log: %v", err)
		}
	}
}
