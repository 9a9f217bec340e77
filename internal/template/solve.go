// Package template derives the per-goal capability template: the largest
// set of capabilities whose summed risk fits the goal's budget, ties broken
// by utility.
package template

import (
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

// Template is the result of one search.
type Template struct {
	Goal         string             `json:"goal"`
	Capabilities []model.Capability `json:"capabilities"`
	Budget       int                `json:"budget"`
	Risk         int                `json:"risk"`
	Utility      int                `json:"utility"`
}

// Has reports whether c is part of the template.
func (t Template) Has(c model.Capability) bool {
	for _, have := range t.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// state is the best selection found at one budget level.
type state struct {
	count   int
	utility int
	risk    int
	chosen  []int // indices into the candidate list, ascending
}

// better is the strict lexicographic order on (count, utility).
// Equal pairs never replace the incumbent, which keeps results stable.
func (s state) better(than state) bool {
	if s.count != than.count {
		return s.count > than.count
	}
	return s.utility > than.utility
}

// Solve runs the 0/1 knapsack over budget levels 0..budget.
// Hard-banned capabilities never enter the search. Missing attributes use
// the configured default. Output preserves the order of cfg.Capabilities.
func Solve(cfg *policy.Config, goal string) Template {
	budget := cfg.Budget(goal)
	if budget < 0 {
		budget = 0
	}

	banned := cfg.HardBanSet()
	var candidates []model.Capability
	for _, c := range cfg.Capabilities {
		if !banned[c] {
			candidates = append(candidates, c)
		}
	}

	dp := make([]state, budget+1)
	for i, c := range candidates {
		attr := cfg.AttributeFor(goal, c)
		if attr.Risk > budget {
			continue
		}
		for b := budget; b >= attr.Risk; b-- {
			prev := dp[b-attr.Risk]
			cand := state{
				count:   prev.count + 1,
				utility: prev.utility + attr.Utility,
				risk:    prev.risk + attr.Risk,
				chosen:  append(append(make([]int, 0, len(prev.chosen)+1), prev.chosen...), i),
			}
			if cand.better(dp[b]) {
				dp[b] = cand
			}
		}
	}

	best := dp[0]
	for b := 1; b <= budget; b++ {
		if dp[b].better(best) {
			best = dp[b]
		}
	}

	caps := make([]model.Capability, 0, len(best.chosen))
	for _, i := range best.chosen {
		caps = append(caps, candidates[i])
	}
	return Template{
		Goal:         goal,
		Capabilities: caps,
		Budget:       budget,
		Risk:         best.risk,
		Utility:      best.utility,
	}
}

// Minimal returns the configured smallest sufficient set for goal, in
// capability order. Empty when the goal has none.
func Minimal(cfg *policy.Config, goal string) []model.Capability {
	want := make(map[model.Capability]bool)
	for _, c := range cfg.MinimalTemplates[goal] {
		want[c] = true
	}
	out := []model.Capability{}
	for _, c := range cfg.Capabilities {
		if want[c] {
			out = append(out, c)
		}
	}
	return out
}
