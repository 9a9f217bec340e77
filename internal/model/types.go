package model

import (
	"sort"
	"time"
)

// Capability is a named permission class for an agent action.
// Identity is exact string equality; organizations may define their own tags.
type Capability string

// Known capabilities of the code-modifying agent class.
const (
	CapExecTest      Capability = "exec:test"
	CapReadRepo      Capability = "read:repo"
	CapWriteSrc      Capability = "write:src"
	CapExecLint      Capability = "exec:lint"
	CapExecFormat    Capability = "exec:format"
	CapExecBuild     Capability = "exec:build"
	CapNetworkEgress Capability = "network:egress"
	CapExecDeploy    Capability = "exec:deploy"
	CapWriteSecrets  Capability = "write:secrets"
	CapExecArbitrary Capability = "exec:arbitrary"
)

// Constraint is a user-supplied restriction on a requirement.
type Constraint string

// ConstraintNoNetwork forbids network egress for the requirement.
const ConstraintNoNetwork Constraint = "no-network"

// PathPattern is a glob over "/"-delimited segments.
// "*" matches exactly one segment, "**" matches zero or more.
type PathPattern = string

// Anchor kinds recognised by scope expansion.
const (
	AnchorPath = "path"
	AnchorTest = "test"
)

// GoalFixFailingTest is the only goal with an automatic completion rule.
const GoalFixFailingTest = "fix_failing_test"

// EvidenceKind classifies a piece of tool output.
type EvidenceKind string

const (
	EvidenceTestPass EvidenceKind = "test_pass"
	EvidenceTestFail EvidenceKind = "test_fail"
	EvidenceDiff     EvidenceKind = "diff"
)

// Evidence is a structured record of tool output. Treated as immutable.
type Evidence struct {
	Kind    EvidenceKind      `json:"kind"`
	Payload map[string]string `json:"payload"`
}

// Clone returns a deep copy.
func (e Evidence) Clone() Evidence {
	return Evidence{Kind: e.Kind, Payload: cloneStrings(e.Payload)}
}

// NodeState is the lifecycle state of a requirement node.
type NodeState string

const (
	StateActive    NodeState = "active"
	StateCompleted NodeState = "completed"
	// StateStale is reserved; no transition produces it yet.
	StateStale NodeState = "stale"
)

// RequirementNode is the mutable context of one task instance.
// Mutated only through graph events.
type RequirementNode struct {
	RID         string            `json:"rid"`
	Goal        string            `json:"goal"`
	Anchors     map[string]string `json:"anchors"`
	Constraints []Constraint      `json:"constraints"`
	State       NodeState         `json:"state"`
	Evidences   []Evidence        `json:"evidences"`
}

// Clone returns a deep copy that shares nothing with n.
func (n RequirementNode) Clone() RequirementNode {
	out := RequirementNode{
		RID:         n.RID,
		Goal:        n.Goal,
		Anchors:     cloneStrings(n.Anchors),
		Constraints: append([]Constraint(nil), n.Constraints...),
		State:       n.State,
		Evidences:   CloneEvidences(n.Evidences),
	}
	if out.Anchors == nil {
		out.Anchors = map[string]string{}
	}
	return out
}

// HasConstraint reports whether c is active on the node.
func (n RequirementNode) HasConstraint(c Constraint) bool {
	for _, have := range n.Constraints {
		if have == c {
			return true
		}
	}
	return false
}

// CloneEvidences deep-copies an evidence sequence.
func CloneEvidences(evs []Evidence) []Evidence {
	if evs == nil {
		return []Evidence{}
	}
	out := make([]Evidence, len(evs))
	for i, e := range evs {
		out[i] = e.Clone()
	}
	return out
}

// NormalizeConstraints de-duplicates and sorts constraint tags.
func NormalizeConstraints(in []string) []Constraint {
	seen := make(map[string]bool, len(in))
	out := make([]Constraint, 0, len(in))
	for _, c := range in {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, Constraint(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Request is one permission ask. Never stored.
type Request struct {
	Capability Capability `json:"capability"`
	Scope      string     `json:"scope"`
}

// ConstraintBound holds what organization policy and user constraints forbid.
type ConstraintBound struct {
	ForbiddenCapabilities map[Capability]bool `json:"forbidden_capabilities"`
	ForbiddenPaths        []PathPattern       `json:"forbidden_paths"`
	// ForbiddenCombinations is reserved for capability x path bans.
	ForbiddenCombinations []Combination `json:"forbidden_combinations"`
}

// Combination is a capability restricted on a specific path pattern.
type Combination struct {
	Capability Capability  `json:"capability"`
	Path       PathPattern `json:"path"`
}

// Forbids reports whether c is banned outright.
func (cb ConstraintBound) Forbids(c Capability) bool {
	return cb.ForbiddenCapabilities[c]
}

// SafeBoundary maps each permitted capability to its allowed scope patterns.
type SafeBoundary struct {
	Allowed map[Capability][]PathPattern `json:"allowed"`
}

// Allows is true iff the capability is present and the scope matches
// at least one of its patterns.
func (sb SafeBoundary) Allows(req Request) bool {
	patterns, ok := sb.Allowed[req.Capability]
	if !ok {
		return false
	}
	for _, p := range patterns {
		if MatchPath(req.Scope, p) {
			return true
		}
	}
	return false
}

// Has reports whether the capability is in the boundary at all.
func (sb SafeBoundary) Has(c Capability) bool {
	_, ok := sb.Allowed[c]
	return ok
}

// Capabilities returns the allowed capabilities in sorted order.
func (sb SafeBoundary) Capabilities() []Capability {
	out := make([]Capability, 0, len(sb.Allowed))
	for c := range sb.Allowed {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lease is a time-boxed capability grant. Immutable once issued;
// expiry is the only termination path.
type Lease struct {
	ID               string        `json:"id"`
	Capability       Capability    `json:"capability"`
	ScopePatterns    []PathPattern `json:"scope_patterns"`
	IssuedAt         time.Time     `json:"issued_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
	BoundRID         string        `json:"bound_rid"`
	EvidenceSnapshot []Evidence    `json:"evidence_snapshot"`
}

// IsExpiredAt reports expiry at t. Expiry at exactly ExpiresAt counts as expired.
func (l Lease) IsExpiredAt(t time.Time) bool {
	return !t.Before(l.ExpiresAt)
}

// Expired reports expiry against the wall clock.
func (l Lease) Expired() bool {
	return l.IsExpiredAt(time.Now())
}

// Permits reports whether the lease is live at t and covers scope.
func (l Lease) Permits(scope string, t time.Time) bool {
	if l.IsExpiredAt(t) {
		return false
	}
	scope, ok := CleanPath(scope)
	if !ok {
		return false
	}
	for _, p := range l.ScopePatterns {
		if MatchPath(scope, p) {
			return true
		}
	}
	return false
}

// PruneExpired returns the leases still live at t, preserving order.
// Holders call this themselves; the engine keeps no lease state.
func PruneExpired(leases []Lease, t time.Time) []Lease {
	out := leases[:0:0]
	for _, l := range leases {
		if !l.IsExpiredAt(t) {
			out = append(out, l)
		}
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
