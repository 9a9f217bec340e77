// Package authorize grants or denies a single capability request against the
// safe boundary of a requirement node and mints leases for grants.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bo-Vane/agent-safeBoundary/internal/boundary"
	"github.com/Bo-Vane/agent-safeBoundary/internal/gate"
	"github.com/Bo-Vane/agent-safeBoundary/internal/metrics"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
)

var (
	// ErrNilNode is returned when no requirement node is supplied.
	ErrNilNode = errors.New("authorize: nil requirement node")
	// ErrInvalidTTL is returned for a non-positive lease lifetime.
	ErrInvalidTTL = errors.New("authorize: ttl must be positive")
)

// Violation classifies a denial.
type Violation string

const (
	ViolationNone       Violation = ""
	ViolationConstraint Violation = "constraint"
	ViolationCapability Violation = "capability"
	ViolationScope      Violation = "scope"
	ViolationEvidence   Violation = "evidence"
)

// Decision is the outcome of one request. The boundary is always populated
// so callers can inspect the full permission set.
type Decision struct {
	OK           bool               `json:"ok"`
	Lease        *model.Lease       `json:"lease,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Suggestion   []string           `json:"suggestion,omitempty"`
	Violation    Violation          `json:"violation,omitempty"`
	Constraint   model.Constraint   `json:"constraint,omitempty"`
	SafeBoundary model.SafeBoundary `json:"safe_boundary"`
}

// Authorizer is stateless apart from its collaborators.
type Authorizer struct {
	computer *boundary.Computer
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// New creates an authorizer over computer.
func New(computer *boundary.Computer, logger *zap.Logger, m *metrics.Metrics) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Authorizer{
		computer: computer,
		logger:   logger.Named("authorize"),
		metrics:  m,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Authorize decides req for node. Checks run in order and stop at the first
// failure: boundary membership, org-forbidden scope, evidence. Denials are
// returned as decisions; an error means the call itself was malformed or
// ctx ended.
func (a *Authorizer) Authorize(ctx context.Context, req model.Request, node *model.RequirementNode, org *orgpolicy.OrgPolicy, ttl time.Duration) (Decision, error) {
	if node == nil {
		return Decision{}, ErrNilNode
	}
	if ttl <= 0 {
		return Decision{}, ErrInvalidTTL
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if org == nil {
		org = orgpolicy.NewDefault()
	}

	start := a.Now()
	snap := node.Clone()
	raw := model.NormalizePath(req.Scope)
	var contained bool
	req.Scope, contained = model.CleanPath(raw)
	if contained {
		contained = !climbsPrefix(raw, req.Scope, a.computer.Expander().Prefix())
	}

	bd, err := a.computer.Compute(ctx, snap, org)
	if err != nil {
		return Decision{}, fmt.Errorf("authorize: %w", err)
	}
	sb := bd.Boundary

	forbidden := a.orgForbidden(req, org)

	var d Decision
	switch {
	case !contained:
		d = Decision{
			Violation: ViolationScope,
			Reason:    fmt.Sprintf("denied: scope out of bounds (%s climbs above the repository)", raw),
			Suggestion: []string{
				"request the path without \"..\" segments",
			},
		}

	case !sb.Allows(req):
		d = a.diagnose(req, snap, sb)

	case forbidden != "":
		d = Decision{
			Violation: ViolationScope,
			Reason:    fmt.Sprintf("denied: scope out of bounds (%s matches organization-forbidden pattern %s)", req.Scope, forbidden),
			Suggestion: []string{
				"sensitive paths are never granted; work on a path outside " + forbidden,
				"ask an administrator to change the organization policy if the path is not sensitive",
			},
		}

	case !gate.Supported(req, snap, snap.Evidences):
		d = Decision{
			Violation: ViolationEvidence,
			Reason:    fmt.Sprintf("denied: insufficient evidence for %s (evidence gate not satisfied)", req.Capability),
			Suggestion: []string{
				"run the relevant tests or build to collect evidence",
				"or add anchors to narrow the scope",
			},
		}

	default:
		now := a.Now()
		d = Decision{
			OK: true,
			Lease: &model.Lease{
				ID:               a.NewID(),
				Capability:       req.Capability,
				ScopePatterns:    append([]model.PathPattern(nil), sb.Allowed[req.Capability]...),
				IssuedAt:         now,
				ExpiresAt:        now.Add(ttl),
				BoundRID:         snap.RID,
				EvidenceSnapshot: model.CloneEvidences(snap.Evidences),
			},
		}
	}
	d.SafeBoundary = sb

	outcome := "grant"
	if !d.OK {
		outcome = "deny"
	}
	a.metrics.Decisions.WithLabelValues(string(req.Capability), outcome, string(d.Violation)).Inc()
	a.metrics.AuthorizeDuration.Observe(a.Now().Sub(start).Seconds())
	a.logger.Debug("decision",
		zap.String("rid", snap.RID),
		zap.String("capability", string(req.Capability)),
		zap.String("scope", req.Scope),
		zap.String("outcome", outcome),
		zap.String("violation", string(d.Violation)),
	)
	return d, nil
}

// diagnose explains why the boundary does not admit req.
func (a *Authorizer) diagnose(req model.Request, node model.RequirementNode, sb model.SafeBoundary) Decision {
	if !sb.Has(req.Capability) {
		cfg := a.computer.Config()
		if con, ok := cfg.ForbiddingConstraint(req.Capability, node.Constraints); ok {
			suggestion := []string{
				fmt.Sprintf("if %s is really needed, ask the user to lift the %s constraint or open a new requirement that escalates explicitly", req.Capability, con),
			}
			if alt := cfg.Constraints[con].Alternative; alt != "" {
				suggestion = append(suggestion, alt)
			}
			return Decision{
				Violation:  ViolationConstraint,
				Constraint: con,
				Reason:     fmt.Sprintf("denied: violates constraint %s (%s is forbidden)", con, req.Capability),
				Suggestion: suggestion,
			}
		}
		return Decision{
			Violation: ViolationCapability,
			Reason:    fmt.Sprintf("denied: capability out of bounds (%s is not in the safe capability set for goal=%s)", req.Capability, node.Goal),
			Suggestion: []string{
				"check whether the task really needs this capability",
				"consider splitting the task into a new requirement",
			},
		}
	}
	return Decision{
		Violation: ViolationScope,
		Reason:    fmt.Sprintf("denied: scope out of bounds (%s is not within the allowed scope of %s)", req.Scope, req.Capability),
		Suggestion: []string{
			"check whether the path is related to the current anchors",
			"widen the anchors to include the path, or open a new requirement",
		},
	}
}

func (a *Authorizer) orgForbidden(req model.Request, org *orgpolicy.OrgPolicy) model.PathPattern {
	if hit, pattern := org.Forbidden(req.Scope, a.computer.Expander().Prefix()); hit {
		return pattern
	}
	return ""
}

// climbsPrefix reports whether raw starts inside prefix but its cleaned
// form no longer does.
func climbsPrefix(raw, clean, prefix string) bool {
	if prefix == "" {
		return false
	}
	segs := model.Segments(raw)
	if len(segs) == 0 || segs[0] != prefix {
		return false
	}
	clean = strings.TrimPrefix(clean, "/")
	return clean != prefix && !strings.HasPrefix(clean, prefix+"/")
}
