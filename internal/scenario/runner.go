package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

// Run plays the steps of s in order against a fresh engine. baseDir resolves
// a relative Root. Setup failures are errors; step mismatches are results.
func Run(ctx context.Context, s *Scenario, cfg *policy.Config, org *orgpolicy.OrgPolicy, baseDir string) (*RunResult, error) {
	root, cleanup, err := prepareRoot(s, baseDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	eng, err := engine.New(ctx, engine.Options{
		Root:   root,
		Prefix: s.Prefix,
		Policy: cfg,
		Org:    org,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
	}

	result := &RunResult{Name: s.Name, Total: len(s.Steps)}
	for i, step := range s.Steps {
		sr := runStep(ctx, eng, step)
		sr.Index = i + 1
		if sr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Steps = append(result.Steps, sr)
	}
	return result, nil
}

func runStep(ctx context.Context, eng *engine.Engine, step Step) StepResult {
	sr := StepResult{Action: step.Action}
	var (
		node model.RequirementNode
		err  error
	)
	switch step.Action {
	case ActionInstruct:
		sr.Subject = step.Goal
		node, err = eng.Instruct(ctx, step.RID, step.Goal, step.Constraints, step.Anchors)
	case ActionRunTests:
		sr.Subject = fmt.Sprintf("ok=%v", step.OK)
		node, err = eng.RunTests(ctx, step.RID, step.OK, step.Stdout)
	case ActionCodePatch:
		sr.Subject = step.Path
		node, err = eng.CodePatch(ctx, step.RID, step.Path, step.Diff)
	case ActionAuthorize:
		return authorizeStep(ctx, eng, step)
	default:
		sr.Actual = "error"
		sr.Reason = fmt.Sprintf("unknown action %q", step.Action)
		return sr
	}

	if err != nil {
		sr.Actual = "error"
		sr.Reason = err.Error()
		return sr
	}
	sr.Actual = string(node.State)
	sr.Expected = step.ExpectState
	sr.Passed = step.ExpectState == "" || step.ExpectState == sr.Actual
	return sr
}

func authorizeStep(ctx context.Context, eng *engine.Engine, step Step) StepResult {
	sr := StepResult{
		Action:   step.Action,
		Subject:  step.Capability + " " + step.Scope,
		Expected: strings.ToLower(step.Expect),
	}
	d, err := eng.Authorize(ctx, step.RID, model.Request{Capability: model.Capability(step.Capability), Scope: step.Scope}, 0)
	if err != nil {
		sr.Actual = "error"
		sr.Reason = err.Error()
		return sr
	}
	sr.Actual = "deny"
	if d.OK {
		sr.Actual = "grant"
	}
	sr.Reason = d.Reason

	switch {
	case sr.Expected != "" && sr.Expected != sr.Actual:
	case step.Violation != "" && step.Violation != string(d.Violation):
		sr.Actual += " (" + string(d.Violation) + ")"
		sr.Expected += " (" + step.Violation + ")"
	case step.ReasonContains != "" && !strings.Contains(d.Reason, step.ReasonContains):
		sr.Expected += fmt.Sprintf(" with reason containing %q", step.ReasonContains)
	default:
		sr.Passed = true
	}
	return sr
}

// prepareRoot returns the repository root and a cleanup func.
func prepareRoot(s *Scenario, baseDir string) (string, func(), error) {
	if s.Root != "" {
		root := s.Root
		if !filepath.IsAbs(root) {
			root = filepath.Join(baseDir, root)
		}
		return root, func() {}, nil
	}

	tmp, err := os.MkdirTemp("", "safeboundary-scenario-")
	if err != nil {
		return "", nil, fmt.Errorf("scenario: temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmp) }
	name := s.Prefix
	if name == "" {
		name = "repo"
	}
	root := filepath.Join(tmp, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("scenario: %w", err)
	}
	for rel, content := range s.Files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(p, root+string(filepath.Separator)) {
			cleanup()
			return "", nil, fmt.Errorf("scenario: file %q escapes the repository", rel)
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("scenario: %w", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("scenario: %w", err)
		}
	}
	return root, cleanup, nil
}

// Load parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = filepath.Base(path)
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and the policy files, and runs it.
func LoadAndRun(ctx context.Context, path, policyPath, orgPath string) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	org, err := orgpolicy.Load(orgPath)
	if err != nil {
		return nil, fmt.Errorf("load organization policy: %w", err)
	}

	result, err := Run(ctx, s, cfg, org, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
