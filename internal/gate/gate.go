// Package gate decides whether accumulated evidence justifies a request.
package gate

import (
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// Rule is the evidentiary requirement of one capability.
type Rule func(req model.Request, node model.RequirementNode, evidences []model.Evidence) bool

// Always admits every request.
func Always(model.Request, model.RequirementNode, []model.Evidence) bool { return true }

// RequireKind admits a request once at least one evidence of kind exists.
func RequireKind(kind model.EvidenceKind) Rule {
	return func(_ model.Request, _ model.RequirementNode, evidences []model.Evidence) bool {
		for _, ev := range evidences {
			if ev.Kind == kind {
				return true
			}
		}
		return false
	}
}

// rules is the single registration point for evidentiary requirements.
// A capability without a rule is never supported.
var rules = map[model.Capability]Rule{
	model.CapExecTest:   Always,
	model.CapReadRepo:   Always,
	model.CapExecLint:   Always,
	model.CapExecFormat: Always,
	model.CapExecBuild:  Always,
	// Mutating code needs a demonstrated failure.
	model.CapWriteSrc: RequireKind(model.EvidenceTestFail),
}

// Supported reports whether evidences justify req for node.
func Supported(req model.Request, node model.RequirementNode, evidences []model.Evidence) bool {
	rule, ok := rules[req.Capability]
	if !ok {
		return false
	}
	return rule(req, node, evidences)
}

// Registered returns whether cap has an evidence rule.
func Registered(cap model.Capability) bool {
	_, ok := rules[cap]
	return ok
}
