// Package boundary composes the safe boundary of a requirement: the template
// capabilities that no constraint forbids, each mapped to the expanded scope
// minus anything touching a forbidden path.
package boundary

import (
	"strings"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// Compose intersects the capability and scope bounds and subtracts the
// constraint bound. A scope pattern is dropped when it contains the leading
// keyword of any forbidden path; this over-filters rather than reasoning
// glob-against-glob. Capabilities left without scope are omitted.
func Compose(capBound []model.Capability, scopeBound []model.PathPattern, cb model.ConstraintBound) model.SafeBoundary {
	keys := forbiddenKeywords(cb.ForbiddenPaths)

	var allowedScope []model.PathPattern
	for _, p := range scopeBound {
		if !containsAny(p, keys) {
			allowedScope = append(allowedScope, p)
		}
	}

	sb := model.SafeBoundary{Allowed: make(map[model.Capability][]model.PathPattern)}
	if len(allowedScope) == 0 {
		return sb
	}
	for _, c := range capBound {
		if cb.Forbids(c) {
			continue
		}
		sb.Allowed[c] = append([]model.PathPattern(nil), allowedScope...)
	}
	return sb
}

// forbiddenKeywords takes the first segment of each pattern with wildcard
// markers removed. Empty keywords ("**/*.pem" yields "") filter nothing.
func forbiddenKeywords(paths []model.PathPattern) []string {
	var keys []string
	for _, p := range paths {
		segs := strings.SplitN(strings.TrimLeft(model.NormalizePath(p), "/"), "/", 2)
		key := strings.ReplaceAll(segs[0], "*", "")
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
