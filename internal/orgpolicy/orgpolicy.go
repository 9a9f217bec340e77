// Package orgpolicy holds organization-wide sensitive path patterns that no
// requirement may ever reach, regardless of anchors or dependency depth.
package orgpolicy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// Patterns is the on-disk form of the organization policy.
type Patterns struct {
	ForbiddenPaths []string `yaml:"forbidden_paths" json:"forbidden_paths"`
}

// DefaultPatterns are the sensitive targets forbidden when no file is configured.
var DefaultPatterns = Patterns{
	ForbiddenPaths: []string{
		".env",
		"secrets/**",
		"**/*.pem",
	},
}

// OrgPolicy is process-wide, read-mostly configuration. Safe for concurrent reads.
type OrgPolicy struct {
	forbidden []model.PathPattern
}

// New builds an OrgPolicy from raw patterns. Separators are normalized.
func New(p Patterns) *OrgPolicy {
	o := &OrgPolicy{}
	for _, f := range p.ForbiddenPaths {
		f = strings.TrimSpace(model.NormalizePath(f))
		if f == "" {
			continue
		}
		o.forbidden = append(o.forbidden, f)
	}
	return o
}

// NewDefault returns the built-in organization policy.
func NewDefault() *OrgPolicy {
	return New(DefaultPatterns)
}

// DefaultPath is ~/.safeboundary/org.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".safeboundary", "org.yaml")
}

// Load reads an org policy from YAML. Empty path falls back to DefaultPath.
// A missing file yields the defaults; invalid YAML is an error.
func Load(path string) (*OrgPolicy, error) {
	o, _, err := LoadWithHash(path)
	return o, err
}

// LoadWithHash is Load plus the SHA-256 of the raw bytes ("sha256:" of empty
// input when defaults are used).
func LoadWithHash(path string) (*OrgPolicy, string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return NewDefault(), emptyHash(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("orgpolicy: read %s: %w", path, err)
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, "", fmt.Errorf("orgpolicy: parse %s: %w", path, err)
	}
	h := sha256.Sum256(data)
	return New(p), "sha256:" + hex.EncodeToString(h[:]), nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// ForbiddenPaths returns the configured patterns verbatim, in order.
func (o *OrgPolicy) ForbiddenPaths() []model.PathPattern {
	if o == nil {
		return nil
	}
	return append([]model.PathPattern(nil), o.forbidden...)
}

// Forbidden reports whether entry hits a sensitive pattern.
// Each pattern is tried against the entry as given and against the entry
// relative to the repository prefix. A pattern without "/" matches the final
// segment at any depth, as in .gitignore.
func (o *OrgPolicy) Forbidden(entry, prefix string) (bool, model.PathPattern) {
	if o == nil {
		return false, ""
	}
	entry = model.NormalizePath(entry)
	candidates := []string{entry}
	if prefix != "" && strings.HasPrefix(entry, prefix+"/") {
		candidates = append(candidates, strings.TrimPrefix(entry, prefix+"/"))
	}

	for _, pat := range o.forbidden {
		basenameOnly := !strings.Contains(strings.Trim(pat, "/"), "/")
		for _, c := range candidates {
			if model.MatchPath(c, pat) {
				return true, pat
			}
			if basenameOnly {
				segs := model.Segments(c)
				if len(segs) > 0 && model.MatchPath(segs[len(segs)-1], pat) {
					return true, pat
				}
			}
		}
	}
	return false, ""
}

// DefaultYAML returns a commented org policy for init-policy.
func DefaultYAML() string {
	return `# safeboundary organization policy
# Paths matching these patterns are never part of any safe boundary.
# Patterns without "/" match a file name at any depth.
forbidden_paths:
  - ".env"
  - "secrets/**"
  - "**/*.pem"
`
}
