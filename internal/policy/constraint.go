package policy

import (
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
)

// BuildConstraintBound derives what is forbidden for a requirement.
// Forbidden capabilities are the task ban plus everything removed by the
// active constraints. Forbidden paths are the organization patterns, verbatim.
// Unknown constraints contribute nothing.
func BuildConstraintBound(cfg *Config, org *orgpolicy.OrgPolicy, constraints []model.Constraint) model.ConstraintBound {
	forbidden := make(map[model.Capability]bool)
	for _, c := range cfg.TaskBan {
		forbidden[c] = true
	}
	for _, con := range constraints {
		for _, c := range cfg.Constraints[con].Forbids {
			forbidden[c] = true
		}
	}

	var paths []model.PathPattern
	if org != nil {
		paths = org.ForbiddenPaths()
	}
	if paths == nil {
		paths = []model.PathPattern{}
	}

	return model.ConstraintBound{
		ForbiddenCapabilities: forbidden,
		ForbiddenPaths:        paths,
		ForbiddenCombinations: []model.Combination{},
	}
}
