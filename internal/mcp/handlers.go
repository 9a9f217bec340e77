package mcp

import (
	"context"
	"fmt"
	"sort"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Bo-Vane/agent-safeBoundary/internal/graph"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// --- Input/Output types ---

// InstructInput defines parameters for the safeboundary_instruct tool.
type InstructInput struct {
	RID         string            `json:"rid,omitempty" jsonschema:"requirement id, generated when empty"`
	Goal        string            `json:"goal" jsonschema:"task goal, e.g. fix_failing_test"`
	Constraints []string          `json:"constraints,omitempty" jsonschema:"user constraints, e.g. no-network"`
	Anchors     map[string]string `json:"anchors,omitempty" jsonschema:"anchors: path and/or test (file::name)"`
}

// NodeOutput is the requirement node after an event.
type NodeOutput struct {
	RID         string               `json:"rid"`
	Goal        string               `json:"goal"`
	State       string               `json:"state"`
	Anchors     map[string]string    `json:"anchors,omitempty"`
	Constraints []string             `json:"constraints,omitempty"`
	Evidences   []model.EvidenceKind `json:"evidences,omitempty"`
}

// AuthorizeInput defines parameters for the safeboundary_authorize tool.
type AuthorizeInput struct {
	RID        string `json:"rid,omitempty" jsonschema:"requirement id, defaults to the active one"`
	Capability string `json:"capability" jsonschema:"capability, e.g. write:src or network:egress"`
	Scope      string `json:"scope" jsonschema:"path or target the capability applies to"`
	TTL        string `json:"ttl,omitempty" jsonschema:"lease lifetime (e.g. 5m), server default when empty"`
}

// AuthorizeOutput is the decision.
type AuthorizeOutput struct {
	OK            bool     `json:"ok"`
	LeaseID       string   `json:"lease_id,omitempty"`
	ExpiresAt     string   `json:"expires_at,omitempty"`
	ScopePatterns []string `json:"scope_patterns,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Violation     string   `json:"violation,omitempty"`
	Suggestion    []string `json:"suggestion,omitempty"`
}

// RunTestsInput defines parameters for the safeboundary_run_tests tool.
type RunTestsInput struct {
	RID    string `json:"rid,omitempty" jsonschema:"requirement id, defaults to the active one"`
	OK     bool   `json:"ok" jsonschema:"whether the test run passed"`
	Stdout string `json:"stdout,omitempty" jsonschema:"test runner output"`
}

// CodePatchInput defines parameters for the safeboundary_code_patch tool.
type CodePatchInput struct {
	RID  string `json:"rid,omitempty" jsonschema:"requirement id, defaults to the active one"`
	Path string `json:"path" jsonschema:"patched file, repository-relative"`
	Diff string `json:"diff,omitempty" jsonschema:"short summary of the diff"`
}

// BoundaryInput defines parameters for the safeboundary_boundary tool.
type BoundaryInput struct {
	RID string `json:"rid,omitempty" jsonschema:"requirement id, defaults to the active one"`
}

// BoundaryOutput lists allowed scope per capability.
type BoundaryOutput struct {
	RID       string              `json:"rid"`
	Goal      string              `json:"goal"`
	Template  []string            `json:"template"`
	Forbidden []string            `json:"forbidden_capabilities,omitempty"`
	Allowed   map[string][]string `json:"allowed"`
}

// SnapshotInput is empty.
type SnapshotInput struct{}

// SnapshotOutput summarizes the graph.
type SnapshotOutput struct {
	ActiveRID string       `json:"active_rid,omitempty"`
	Nodes     []NodeOutput `json:"nodes"`
	Events    int          `json:"events"`
}

// --- Handlers ---

func (s *Server) handleInstruct(ctx context.Context, req *mcpsdk.CallToolRequest, input InstructInput) (*mcpsdk.CallToolResult, NodeOutput, error) {
	if input.Goal == "" {
		return nil, NodeOutput{}, fmt.Errorf("goal is required")
	}
	n, err := s.engine.Instruct(ctx, input.RID, input.Goal, input.Constraints, input.Anchors)
	if err != nil {
		return nil, NodeOutput{}, err
	}
	return nil, nodeOutput(n), nil
}

func (s *Server) handleAuthorize(ctx context.Context, req *mcpsdk.CallToolRequest, input AuthorizeInput) (*mcpsdk.CallToolResult, AuthorizeOutput, error) {
	if input.Capability == "" {
		return nil, AuthorizeOutput{}, fmt.Errorf("capability is required")
	}
	var ttl time.Duration
	if input.TTL != "" {
		var err error
		if ttl, err = time.ParseDuration(input.TTL); err != nil {
			return nil, AuthorizeOutput{}, fmt.Errorf("invalid ttl %q: %w", input.TTL, err)
		}
	}

	d, err := s.engine.Authorize(ctx, input.RID, model.Request{Capability: model.Capability(input.Capability), Scope: input.Scope}, ttl)
	if err != nil {
		return nil, AuthorizeOutput{}, err
	}
	if !d.OK {
		s.logger.Info("denied", zap.String("capability", input.Capability), zap.String("scope", input.Scope), zap.String("violation", string(d.Violation)))
		return &mcpsdk.CallToolResult{IsError: true}, AuthorizeOutput{
			Reason:     d.Reason,
			Violation:  string(d.Violation),
			Suggestion: d.Suggestion,
		}, nil
	}
	return nil, AuthorizeOutput{
		OK:            true,
		LeaseID:       d.Lease.ID,
		ExpiresAt:     d.Lease.ExpiresAt.UTC().Format(time.RFC3339),
		ScopePatterns: d.Lease.ScopePatterns,
	}, nil
}

func (s *Server) handleRunTests(ctx context.Context, req *mcpsdk.CallToolRequest, input RunTestsInput) (*mcpsdk.CallToolResult, NodeOutput, error) {
	n, err := s.engine.RunTests(ctx, input.RID, input.OK, input.Stdout)
	if err != nil {
		return nil, NodeOutput{}, err
	}
	return nil, nodeOutput(n), nil
}

func (s *Server) handleCodePatch(ctx context.Context, req *mcpsdk.CallToolRequest, input CodePatchInput) (*mcpsdk.CallToolResult, NodeOutput, error) {
	if input.Path == "" {
		return nil, NodeOutput{}, fmt.Errorf("path is required")
	}
	n, err := s.engine.CodePatch(ctx, input.RID, input.Path, input.Diff)
	if err != nil {
		return nil, NodeOutput{}, err
	}
	return nil, nodeOutput(n), nil
}

func (s *Server) handleBoundary(ctx context.Context, req *mcpsdk.CallToolRequest, input BoundaryInput) (*mcpsdk.CallToolResult, BoundaryOutput, error) {
	rid, err := s.resolveRID(input.RID)
	if err != nil {
		return nil, BoundaryOutput{}, err
	}
	bd, err := s.engine.Boundary(ctx, rid)
	if err != nil {
		return nil, BoundaryOutput{}, err
	}
	out := BoundaryOutput{
		RID:     rid,
		Goal:    bd.Template.Goal,
		Allowed: make(map[string][]string, len(bd.Boundary.Allowed)),
	}
	for _, c := range bd.Template.Capabilities {
		out.Template = append(out.Template, string(c))
	}
	for c := range bd.Constraint.ForbiddenCapabilities {
		out.Forbidden = append(out.Forbidden, string(c))
	}
	sort.Strings(out.Forbidden)
	for c, patterns := range bd.Boundary.Allowed {
		out.Allowed[string(c)] = patterns
	}
	return nil, out, nil
}

func (s *Server) handleSnapshot(ctx context.Context, req *mcpsdk.CallToolRequest, input SnapshotInput) (*mcpsdk.CallToolResult, SnapshotOutput, error) {
	snap := s.engine.Snapshot()
	out := SnapshotOutput{
		ActiveRID: snap.ActiveRID,
		Nodes:     make([]NodeOutput, 0, len(snap.Order)),
		Events:    len(snap.Events),
	}
	for _, rid := range snap.Order {
		v := snap.Nodes[rid]
		out.Nodes = append(out.Nodes, viewOutput(v))
	}
	return nil, out, nil
}

func (s *Server) resolveRID(rid string) (string, error) {
	if rid != "" {
		return rid, nil
	}
	if active := s.engine.Graph().ActiveRID(); active != "" {
		return active, nil
	}
	return "", graph.ErrNoActiveNode
}

func nodeOutput(n model.RequirementNode) NodeOutput {
	out := NodeOutput{
		RID:     n.RID,
		Goal:    n.Goal,
		State:   string(n.State),
		Anchors: n.Anchors,
	}
	for _, c := range n.Constraints {
		out.Constraints = append(out.Constraints, string(c))
	}
	for _, ev := range n.Evidences {
		out.Evidences = append(out.Evidences, ev.Kind)
	}
	return out
}

func viewOutput(v graph.NodeView) NodeOutput {
	return NodeOutput{
		RID:         v.RID,
		Goal:        v.Goal,
		State:       string(v.State),
		Anchors:     v.Anchors,
		Constraints: v.Constraints,
		Evidences:   v.Evidences,
	}
}
