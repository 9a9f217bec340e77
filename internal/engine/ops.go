package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Bo-Vane/agent-safeBoundary/internal/audit"
	"github.com/Bo-Vane/agent-safeBoundary/internal/authorize"
	"github.com/Bo-Vane/agent-safeBoundary/internal/boundary"
	"github.com/Bo-Vane/agent-safeBoundary/internal/graph"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/template"
)

// Instruct starts a requirement and makes it active. An empty rid is generated.
func (e *Engine) Instruct(ctx context.Context, rid, goal string, constraints []string, anchors map[string]string) (model.RequirementNode, error) {
	if err := ctx.Err(); err != nil {
		return model.RequirementNode{}, err
	}
	return e.graph.OnUserInstruction(rid, goal, constraints, anchors)
}

// RunTests records a test run against rid (or the active node).
func (e *Engine) RunTests(ctx context.Context, rid string, ok bool, stdout string) (model.RequirementNode, error) {
	if err := ctx.Err(); err != nil {
		return model.RequirementNode{}, err
	}
	rid, err := e.resolve(rid)
	if err != nil {
		return model.RequirementNode{}, err
	}
	if err := e.graph.OnRunTests(rid, ok, stdout); err != nil {
		return model.RequirementNode{}, err
	}
	return e.graph.Node(rid)
}

// CodePatch records a patch against rid (or the active node).
func (e *Engine) CodePatch(ctx context.Context, rid, path, diffSummary string) (model.RequirementNode, error) {
	if err := ctx.Err(); err != nil {
		return model.RequirementNode{}, err
	}
	rid, err := e.resolve(rid)
	if err != nil {
		return model.RequirementNode{}, err
	}
	if err := e.graph.OnCodePatch(rid, path, diffSummary); err != nil {
		return model.RequirementNode{}, err
	}
	return e.graph.Node(rid)
}

// Authorize decides req against rid (or the active node) and records the
// decision in the audit log. A zero ttl uses the engine default.
func (e *Engine) Authorize(ctx context.Context, rid string, req model.Request, ttl time.Duration) (authorize.Decision, error) {
	rid, err := e.resolve(rid)
	if err != nil {
		return authorize.Decision{}, err
	}
	node, err := e.graph.Node(rid)
	if err != nil {
		return authorize.Decision{}, err
	}
	if ttl == 0 {
		ttl = e.ttl
	}
	d, err := e.authorizer.Authorize(ctx, req, &node, e.Org(), ttl)
	if err != nil {
		return authorize.Decision{}, err
	}
	e.recordDecision(rid, req, d)
	return d, nil
}

func (e *Engine) recordDecision(rid string, req model.Request, d authorize.Decision) {
	if e.audit == nil {
		return
	}
	entry := audit.Entry{
		Kind:       audit.KindDecision,
		RID:        rid,
		Capability: string(req.Capability),
		Scope:      model.NormalizePath(req.Scope),
		Decision:   audit.Deny,
		Violation:  string(d.Violation),
		Reason:     d.Reason,
		PolicyHash: e.PolicyHash(),
	}
	if d.OK {
		entry.Decision = audit.Grant
		entry.LeaseID = d.Lease.ID
		entry.ExpiresAt = d.Lease.ExpiresAt.UTC().Format(audit.TimestampFormat)
	}
	if err := e.audit.Record(entry); err != nil {
		e.logger.Error("audit record failed", zap.String("rid", rid), zap.Error(err))
	}
}

// Boundary computes the safe boundary of rid (or the active node) with its
// intermediate bounds.
func (e *Engine) Boundary(ctx context.Context, rid string) (boundary.Breakdown, error) {
	rid, err := e.resolve(rid)
	if err != nil {
		return boundary.Breakdown{}, err
	}
	node, err := e.graph.Node(rid)
	if err != nil {
		return boundary.Breakdown{}, err
	}
	return e.computer.Compute(ctx, node, e.Org())
}

// Snapshot returns a detached copy of the graph.
func (e *Engine) Snapshot() graph.Snapshot { return e.graph.Snapshot() }

// Template returns the cached capability template for goal.
func (e *Engine) Template(goal string) template.Template { return e.templates.Get(goal) }

// ReloadPolicy swaps the policy tables. Cached templates are dropped; the
// scope expander keeps its options until restart.
func (e *Engine) ReloadPolicy(cfg *policy.Config, hash string) error {
	if err := cfg.Validate(); err != nil {
		e.metrics.PolicyReloads.WithLabelValues("error").Inc()
		return err
	}
	e.computer.SetConfig(cfg)
	e.mu.Lock()
	e.policyHash = hash
	e.mu.Unlock()
	e.metrics.PolicyReloads.WithLabelValues("ok").Inc()
	e.logger.Info("policy reloaded", zap.String("hash", hash))
	return nil
}

// ReloadOrg swaps the organization policy.
func (e *Engine) ReloadOrg(org *orgpolicy.OrgPolicy, hash string) {
	e.mu.Lock()
	e.org = org
	e.orgHash = hash
	e.mu.Unlock()
	e.metrics.PolicyReloads.WithLabelValues("ok").Inc()
	e.logger.Info("organization policy reloaded", zap.String("hash", hash), zap.Int("patterns", len(org.ForbiddenPaths())))
}
