package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// validate is shared; validator.New is expensive and the result is safe for reuse.
var validate = validator.New()

// Attribute is the (risk, utility) estimate of a capability for one goal.
type Attribute struct {
	Risk    int `yaml:"risk" json:"risk" validate:"gte=0"`
	Utility int `yaml:"utility" json:"utility"`
}

// ConstraintRule maps a user constraint to the capabilities it removes.
type ConstraintRule struct {
	Forbids     []model.Capability `yaml:"forbids" json:"forbids" validate:"required,min=1"`
	Alternative string             `yaml:"alternative,omitempty" json:"alternative,omitempty"`
}

// ScopeConfig bounds dependency-closure expansion.
type ScopeConfig struct {
	DepthLimit  int           `yaml:"depth_limit" json:"depth_limit" validate:"gte=0,lte=16"`
	MaxNodes    int           `yaml:"max_nodes" json:"max_nodes" validate:"gte=1"`
	MaxFiles    int           `yaml:"max_files" json:"max_files" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	SourceRoots []string      `yaml:"source_roots" json:"source_roots"`
	TestRoots   []string      `yaml:"test_roots" json:"test_roots"`
}

// Config is the static, process-wide configuration of the engine.
type Config struct {
	Capabilities     []model.Capability                        `yaml:"capabilities" json:"capabilities" validate:"required,min=1,unique"`
	HardBan          []model.Capability                        `yaml:"hard_ban" json:"hard_ban"`
	TaskBan          []model.Capability                        `yaml:"task_ban" json:"task_ban"`
	DefaultBudget    int                                       `yaml:"default_budget" json:"default_budget" validate:"gte=0"`
	RiskBudgets      map[string]int                            `yaml:"risk_budgets" json:"risk_budgets" validate:"dive,gte=0"`
	DefaultAttribute Attribute                                 `yaml:"default_attribute" json:"default_attribute"`
	Attributes       map[string]map[model.Capability]Attribute `yaml:"attributes" json:"attributes" validate:"dive,dive"`
	MinimalTemplates map[string][]model.Capability             `yaml:"minimal_templates" json:"minimal_templates"`
	Constraints      map[model.Constraint]ConstraintRule       `yaml:"constraints" json:"constraints" validate:"dive"`
	Scope            ScopeConfig                               `yaml:"scope" json:"scope"`
}

// DefaultConfig returns the built-in configuration for the code-modifying agent class.
func DefaultConfig() *Config {
	return &Config{
		Capabilities: []model.Capability{
			model.CapExecTest,
			model.CapReadRepo,
			model.CapWriteSrc,
			model.CapExecLint,
			model.CapExecFormat,
			model.CapExecBuild,
			model.CapNetworkEgress,
			model.CapExecDeploy,
			model.CapWriteSecrets,
			model.CapExecArbitrary,
		},
		HardBan: []model.Capability{
			model.CapExecDeploy,
			model.CapWriteSecrets,
			model.CapExecArbitrary,
		},
		TaskBan:       []model.Capability{model.CapExecDeploy},
		DefaultBudget: 3,
		RiskBudgets: map[string]int{
			model.GoalFixFailingTest: 7,
		},
		DefaultAttribute: Attribute{Risk: 2, Utility: 0},
		Attributes: map[string]map[model.Capability]Attribute{
			model.GoalFixFailingTest: {
				model.CapExecTest:      {Risk: 1, Utility: 10},
				model.CapReadRepo:      {Risk: 1, Utility: 8},
				model.CapWriteSrc:      {Risk: 2, Utility: 8},
				model.CapExecLint:      {Risk: 1, Utility: 4},
				model.CapExecFormat:    {Risk: 1, Utility: 3},
				model.CapExecBuild:     {Risk: 2, Utility: 5},
				model.CapNetworkEgress: {Risk: 3, Utility: 2},
			},
		},
		MinimalTemplates: map[string][]model.Capability{
			model.GoalFixFailingTest: {model.CapExecTest, model.CapReadRepo, model.CapWriteSrc},
		},
		Constraints: map[model.Constraint]ConstraintRule{
			model.ConstraintNoNetwork: {
				Forbids:     []model.Capability{model.CapNetworkEgress},
				Alternative: "prefer an offline alternative (local cache, lock file, or mirror)",
			},
		},
		Scope: ScopeConfig{
			DepthLimit:  2,
			MaxNodes:    5000,
			MaxFiles:    50000,
			Timeout:     2 * time.Second,
			SourceRoots: []string{"src"},
			TestRoots:   []string{"tests"},
		},
	}
}

// DefaultPath is ~/.safeboundary/policy.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".safeboundary", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.safeboundary/policy.yaml.
// Missing file returns defaults. Invalid YAML or tables are an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads the configuration and returns the SHA-256 of the
// raw bytes on disk. When defaults are used the hash is of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("policy: read config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("policy: parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// Validate checks struct tags and cross-table consistency.
// A malformed table is an integration error and must abort startup.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("policy: invalid config: %w", err)
	}

	known := make(map[model.Capability]bool, len(c.Capabilities))
	for _, cap := range c.Capabilities {
		known[cap] = true
	}

	var errs []error
	for _, goal := range sortedKeys(c.Attributes) {
		for cap, a := range c.Attributes[goal] {
			if !known[cap] {
				errs = append(errs, fmt.Errorf("attributes[%s]: unknown capability %q", goal, cap))
			}
			if a.Risk < 0 {
				errs = append(errs, fmt.Errorf("attributes[%s][%s]: negative risk %d", goal, cap, a.Risk))
			}
		}
	}
	for _, goal := range sortedKeys(c.MinimalTemplates) {
		for _, cap := range c.MinimalTemplates[goal] {
			if !known[cap] {
				errs = append(errs, fmt.Errorf("minimal_templates[%s]: unknown capability %q", goal, cap))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("policy: invalid config: %w", err)
	}
	return nil
}

// Budget returns the risk budget for goal, falling back to DefaultBudget.
func (c *Config) Budget(goal string) int {
	if b, ok := c.RiskBudgets[goal]; ok {
		return b
	}
	return c.DefaultBudget
}

// AttributeFor returns the (risk, utility) of cap under goal, or DefaultAttribute.
func (c *Config) AttributeFor(goal string, cap model.Capability) Attribute {
	if a, ok := c.Attributes[goal][cap]; ok {
		return a
	}
	return c.DefaultAttribute
}

// HardBanSet returns the hard-ban list as a set.
func (c *Config) HardBanSet() map[model.Capability]bool {
	return toSet(c.HardBan)
}

// ForbiddingConstraint returns the first active constraint (in sorted order)
// whose rule removes cap.
func (c *Config) ForbiddingConstraint(cap model.Capability, active []model.Constraint) (model.Constraint, bool) {
	sorted := append([]model.Constraint(nil), active...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, con := range sorted {
		for _, f := range c.Constraints[con].Forbids {
			if f == cap {
				return con, true
			}
		}
	}
	return "", false
}

// TaskBans reports whether cap is excluded for this agent class.
func (c *Config) TaskBans(cap model.Capability) bool {
	for _, b := range c.TaskBan {
		if b == cap {
			return true
		}
	}
	return false
}

func toSet(caps []model.Capability) map[model.Capability]bool {
	out := make(map[model.Capability]bool, len(caps))
	for _, c := range caps {
		out[c] = true
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# safeboundary policy configuration
# Generated by: safeboundary init-policy
#
# Boundary computation (cannot be changed):
#   1. Capability template: 0/1 knapsack over (risk, utility) within the goal's budget
#   2. Scope: anchors expanded through the import graph, sensitive paths removed
#   3. Constraint bound: task_ban + constraint rules + org forbidden paths
#   4. Safe boundary: template minus forbidden capabilities, scope minus forbidden keywords

# Full capability taxonomy. Template output follows this order.
capabilities:
  - exec:test
  - read:repo
  - write:src
  - exec:lint
  - exec:format
  - exec:build
  - network:egress
  - exec:deploy
  - write:secrets
  - exec:arbitrary

# Never considered by the template search, whatever the budget.
hard_ban:
  - exec:deploy
  - write:secrets
  - exec:arbitrary

# Always forbidden for this agent class.
task_ban:
  - exec:deploy

# Risk budget per goal. Goals not listed use default_budget.
default_budget: 3
risk_budgets:
  fix_failing_test: 7

# (risk, utility) per goal and capability. Missing entries use default_attribute.
default_attribute:
  risk: 2
  utility: 0
attributes:
  fix_failing_test:
    exec:test:      {risk: 1, utility: 10}
    read:repo:      {risk: 1, utility: 8}
    write:src:      {risk: 2, utility: 8}
    exec:lint:      {risk: 1, utility: 4}
    exec:format:    {risk: 1, utility: 3}
    exec:build:     {risk: 2, utility: 5}
    network:egress: {risk: 3, utility: 2}

# Smallest capability set that can complete a goal (reported for comparison).
minimal_templates:
  fix_failing_test: ["exec:test", "read:repo", "write:src"]

# User constraint -> capabilities removed from every boundary.
constraints:
  no-network:
    forbids: ["network:egress"]
    alternative: "prefer an offline alternative (local cache, lock file, or mirror)"

# Dependency-closure bounds.
scope:
  depth_limit: 2
  max_nodes: 5000
  max_files: 50000
  timeout: 2s
  source_roots: [src]
  test_roots: [tests]
`
}
