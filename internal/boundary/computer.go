package boundary

import (
	"context"
	"fmt"
	"sync"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/scope"
	"github.com/Bo-Vane/agent-safeBoundary/internal/template"
)

// Breakdown keeps every intermediate bound of one computation for diagnosis.
type Breakdown struct {
	Template   template.Template     `json:"template"`
	Scope      []model.PathPattern   `json:"scope"`
	Constraint model.ConstraintBound `json:"constraint"`
	Boundary   model.SafeBoundary    `json:"boundary"`
}

// Computer runs the boundary pipeline for requirement nodes.
// It holds no per-node state and is safe for concurrent use.
type Computer struct {
	mu        sync.RWMutex
	cfg       *policy.Config
	templates *template.Cache
	expander  *scope.Expander
}

// NewComputer wires a computer from its parts.
func NewComputer(cfg *policy.Config, templates *template.Cache, expander *scope.Expander) *Computer {
	return &Computer{cfg: cfg, templates: templates, expander: expander}
}

// Config returns the active policy configuration.
func (c *Computer) Config() *policy.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetConfig swaps the policy configuration and drops cached templates.
func (c *Computer) SetConfig(cfg *policy.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.templates.Reset(cfg)
}

// Expander returns the scope expander.
func (c *Computer) Expander() *scope.Expander { return c.expander }

// Compute derives the safe boundary for node. The node is cloned first so
// the caller may keep mutating its own copy.
func (c *Computer) Compute(ctx context.Context, node model.RequirementNode, org *orgpolicy.OrgPolicy) (Breakdown, error) {
	snap := node.Clone()
	cfg := c.Config()

	tmpl := c.templates.Get(snap.Goal)
	scopeBound, err := c.expander.Expand(ctx, snap.Anchors, org)
	if err != nil {
		return Breakdown{}, fmt.Errorf("boundary: expand scope: %w", err)
	}
	cb := policy.BuildConstraintBound(cfg, org, snap.Constraints)

	return Breakdown{
		Template:   tmpl,
		Scope:      scopeBound,
		Constraint: cb,
		Boundary:   Compose(tmpl.Capabilities, scopeBound, cb),
	}, nil
}
