package model

import (
	"path"
	"strings"
)

// NormalizePath translates backslash separators to "/".
// Malformed separators are normalized, never rejected.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// CleanPath normalizes separators and resolves "." and ".." segments.
// ok is false when the path climbs above its first segment.
func CleanPath(p string) (clean string, ok bool) {
	p = NormalizePath(p)
	if p == "" {
		return "", true
	}
	clean = path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return clean, false
	}
	return clean, true
}

// Segments splits a normalized path into its non-empty segments.
func Segments(p string) []string {
	parts := strings.Split(NormalizePath(p), "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsPattern reports whether p contains wildcard markers.
func IsPattern(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// MatchPath matches path against a segment glob.
// "*" matches exactly one segment, "**" matches zero or more segments,
// and wildcards inside a segment ("*.pem") match within that segment only.
func MatchPath(p, pattern string) bool {
	return matchSegments(Segments(p), Segments(pattern))
}

func matchSegments(segs, pat []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			for len(pat) > 1 && pat[1] == "**" {
				pat = pat[1:]
			}
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(segs[i:], pat[1:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 || !matchSegment(segs[0], pat[0]) {
			return false
		}
		segs, pat = segs[1:], pat[1:]
	}
	return len(segs) == 0
}

func matchSegment(seg, pat string) bool {
	if pat == "*" {
		return true
	}
	if !IsPattern(pat) {
		return seg == pat
	}
	ok, err := path.Match(pat, seg)
	if err != nil {
		return seg == pat
	}
	return ok
}
