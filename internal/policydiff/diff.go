// Package policydiff compares two policy tables and reports what the change
// does to every goal's capability template.
package policydiff

import (
	"fmt"
	"sort"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/template"
)

// DefaultGoal labels the template used for goals without their own tables.
const DefaultGoal = "(default)"

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// ListChange is a capability added to or removed from a list.
type ListChange struct {
	Type       string           `json:"type"` // "added", "removed"
	List       string           `json:"list"`
	Capability model.Capability `json:"capability"`
}

// TemplateChange is the effective change of one goal's capability template.
type TemplateChange struct {
	Goal    string             `json:"goal"`
	Old     []model.Capability `json:"old"`
	New     []model.Capability `json:"new"`
	Added   []model.Capability `json:"added,omitempty"`
	Removed []model.Capability `json:"removed,omitempty"`
}

// DiffResult holds the comparison of two policy configs.
type DiffResult struct {
	OldPath         string           `json:"old_path"`
	NewPath         string           `json:"new_path"`
	Changes         []Change         `json:"changes"`
	ListChanges     []ListChange     `json:"list_changes"`
	TemplateChanges []TemplateChange `json:"template_changes"`
	HasChanges      bool             `json:"has_changes"`
}

// Diff compares two configs and returns the differences.
func Diff(old, new *policy.Config) *DiffResult {
	r := &DiffResult{}

	diffInt(r, "default_budget", old.DefaultBudget, new.DefaultBudget, false)
	for _, goal := range unionKeys(old.RiskBudgets, new.RiskBudgets) {
		o, oldOK := old.RiskBudgets[goal]
		n, newOK := new.RiskBudgets[goal]
		field := "risk_budgets." + goal
		switch {
		case !oldOK:
			r.Changes = append(r.Changes, Change{Field: field, New: fmt.Sprint(n), Comment: "added"})
		case !newOK:
			r.Changes = append(r.Changes, Change{Field: field, Old: fmt.Sprint(o), Comment: "removed"})
		default:
			diffInt(r, field, o, n, false)
		}
	}

	diffInt(r, "scope.depth_limit", old.Scope.DepthLimit, new.Scope.DepthLimit, false)
	diffInt(r, "scope.max_nodes", old.Scope.MaxNodes, new.Scope.MaxNodes, false)
	diffInt(r, "scope.max_files", old.Scope.MaxFiles, new.Scope.MaxFiles, false)
	if old.Scope.Timeout != new.Scope.Timeout {
		r.Changes = append(r.Changes, Change{
			Field: "scope.timeout",
			Old:   old.Scope.Timeout.String(),
			New:   new.Scope.Timeout.String(),
		})
	}

	diffList(r, "capabilities", old.Capabilities, new.Capabilities)
	diffList(r, "hard_ban", old.HardBan, new.HardBan)
	diffList(r, "task_ban", old.TaskBan, new.TaskBan)
	for _, con := range unionKeys(constraintKeys(old), constraintKeys(new)) {
		c := model.Constraint(con)
		diffList(r, "constraints."+con, old.Constraints[c].Forbids, new.Constraints[c].Forbids)
	}

	diffTemplates(r, old, new)

	r.HasChanges = len(r.Changes) > 0 || len(r.ListChanges) > 0 || len(r.TemplateChanges) > 0
	return r
}

func diffInt(r *DiffResult, field string, old, new int, higherIsStricter bool) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     fmt.Sprintf("%d", old),
			New:     fmt.Sprintf("%d", new),
			Comment: intComment(old, new, higherIsStricter),
		})
	}
}

func intComment(old, new int, higherIsStricter bool) string {
	if higherIsStricter {
		if new > old {
			return "stricter"
		}
		return "looser"
	}
	// Budgets and limits: a lower value admits less.
	if new < old {
		return "stricter"
	}
	return "looser"
}

func diffList(r *DiffResult, list string, old, new []model.Capability) {
	oldSet := make(map[model.Capability]bool, len(old))
	for _, c := range old {
		oldSet[c] = true
	}
	newSet := make(map[model.Capability]bool, len(new))
	for _, c := range new {
		newSet[c] = true
	}
	for _, c := range new {
		if !oldSet[c] {
			r.ListChanges = append(r.ListChanges, ListChange{Type: "added", List: list, Capability: c})
		}
	}
	for _, c := range old {
		if !newSet[c] {
			r.ListChanges = append(r.ListChanges, ListChange{Type: "removed", List: list, Capability: c})
		}
	}
}

// diffTemplates solves every goal either config knows about under both
// configs and records the goals whose selection changed.
func diffTemplates(r *DiffResult, old, new *policy.Config) {
	goals := []string{""}
	for _, cfg := range []*policy.Config{old, new} {
		goals = append(goals, keys(cfg.RiskBudgets)...)
		goals = append(goals, keys(cfg.Attributes)...)
		goals = append(goals, keys(cfg.MinimalTemplates)...)
	}
	sort.Strings(goals)

	seen := make(map[string]bool)
	for _, goal := range goals {
		if seen[goal] {
			continue
		}
		seen[goal] = true

		o := template.Solve(old, goal).Capabilities
		n := template.Solve(new, goal).Capabilities
		added, removed := capDelta(o, n)
		if len(added) == 0 && len(removed) == 0 && equalOrder(o, n) {
			continue
		}
		label := goal
		if label == "" {
			label = DefaultGoal
		}
		r.TemplateChanges = append(r.TemplateChanges, TemplateChange{
			Goal:    label,
			Old:     o,
			New:     n,
			Added:   added,
			Removed: removed,
		})
	}
}

func capDelta(old, new []model.Capability) (added, removed []model.Capability) {
	in := func(list []model.Capability, c model.Capability) bool {
		for _, have := range list {
			if have == c {
				return true
			}
		}
		return false
	}
	for _, c := range new {
		if !in(old, c) {
			added = append(added, c)
		}
	}
	for _, c := range old {
		if !in(new, c) {
			removed = append(removed, c)
		}
	}
	return added, removed
}

func equalOrder(a, b []model.Capability) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func constraintKeys(cfg *policy.Config) map[string]bool {
	out := make(map[string]bool, len(cfg.Constraints))
	for c := range cfg.Constraints {
		out[string(c)] = true
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func unionKeys[V, W any](a map[string]V, b map[string]W) []string {
	set := make(map[string]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	return keys(set)
}
