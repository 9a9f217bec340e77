package boundary

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/scope"
	"github.com/Bo-Vane/agent-safeBoundary/internal/template"
)

func TestComposeKeywordFilter(t *testing.T) {
	cb := model.ConstraintBound{
		ForbiddenCapabilities: map[model.Capability]bool{model.CapNetworkEgress: true},
		ForbiddenPaths:        []model.PathPattern{".env", "secrets/**", "**/*.pem"},
	}
	caps := []model.Capability{model.CapExecTest, model.CapNetworkEgress, model.CapWriteSrc}
	scopeBound := []model.PathPattern{
		"repo/secrets/**",
		"repo/src/auth/**",
		"repo/src/auth/.env.example",
		"repo/src/certs/server.pem",
	}

	sb := Compose(caps, scopeBound, cb)

	if sb.Has(model.CapNetworkEgress) {
		t.Error("forbidden capability must be omitted")
	}
	// "**/*.pem" yields an empty keyword and filters nothing.
	want := []model.PathPattern{"repo/src/auth/**", "repo/src/certs/server.pem"}
	for _, c := range []model.Capability{model.CapExecTest, model.CapWriteSrc} {
		if got := sb.Allowed[c]; !reflect.DeepEqual(got, want) {
			t.Errorf("%s: got %v, want %v", c, got, want)
		}
	}
}

func TestComposeOmitsCapabilitiesWithoutScope(t *testing.T) {
	cb := model.ConstraintBound{ForbiddenPaths: []model.PathPattern{"secrets/**"}}
	sb := Compose([]model.Capability{model.CapExecTest}, []model.PathPattern{"repo/secrets/a.py"}, cb)
	if len(sb.Allowed) != 0 {
		t.Errorf("expected empty boundary, got %v", sb.Allowed)
	}
	if sb.Allowed == nil {
		t.Error("Allowed should be non-nil")
	}
}

func TestComposeNeverContainsForbiddenCapability(t *testing.T) {
	all := policy.DefaultConfig().Capabilities
	for i := range all {
		cb := model.ConstraintBound{ForbiddenCapabilities: map[model.Capability]bool{all[i]: true}}
		sb := Compose(all, []model.PathPattern{"repo/**"}, cb)
		if sb.Has(all[i]) {
			t.Errorf("%s forbidden but present", all[i])
		}
		if len(sb.Allowed) != len(all)-1 {
			t.Errorf("expected %d capabilities, got %d", len(all)-1, len(sb.Allowed))
		}
	}
}

func TestComposeCopiesScope(t *testing.T) {
	sb := Compose([]model.Capability{model.CapExecTest, model.CapReadRepo}, []model.PathPattern{"repo/**"}, model.ConstraintBound{})
	sb.Allowed[model.CapExecTest][0] = "mutated"
	if sb.Allowed[model.CapReadRepo][0] != "repo/**" {
		t.Error("capabilities must not share a scope slice")
	}
}

func newComputer(t *testing.T) *Computer {
	t.Helper()
	root := filepath.Join(t.TempDir(), "repo")
	files := map[string]string{
		"src/auth/login.py":   "import src.auth.session\n",
		"src/auth/session.py": "",
		"tests/test_auth.py":  "from src.auth.login import login\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := policy.DefaultConfig()
	exp := scope.NewExpander(root, scope.Options{
		DepthLimit:  cfg.Scope.DepthLimit,
		MaxNodes:    cfg.Scope.MaxNodes,
		MaxFiles:    cfg.Scope.MaxFiles,
		Timeout:     time.Second,
		SourceRoots: cfg.Scope.SourceRoots,
		TestRoots:   cfg.Scope.TestRoots,
	}, nil, nil)
	return NewComputer(cfg, template.NewCache(cfg, nil), exp)
}

func TestComputeNoNetwork(t *testing.T) {
	c := newComputer(t)
	node := model.RequirementNode{
		RID:         "r1",
		Goal:        model.GoalFixFailingTest,
		Anchors:     map[string]string{model.AnchorTest: "tests/test_auth.py::test_login"},
		Constraints: []model.Constraint{model.ConstraintNoNetwork},
		State:       model.StateActive,
	}

	bd, err := c.Compute(context.Background(), node, orgpolicy.NewDefault())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !bd.Constraint.Forbids(model.CapNetworkEgress) || !bd.Constraint.Forbids(model.CapExecDeploy) {
		t.Errorf("constraint bound: %v", bd.Constraint.ForbiddenCapabilities)
	}
	if bd.Boundary.Has(model.CapNetworkEgress) || bd.Boundary.Has(model.CapExecDeploy) {
		t.Error("forbidden capabilities leaked into the boundary")
	}
	wantCaps := []model.Capability{model.CapExecBuild, model.CapExecLint, model.CapExecTest, model.CapReadRepo, model.CapWriteSrc}
	if got := bd.Boundary.Capabilities(); !reflect.DeepEqual(got, wantCaps) {
		t.Errorf("capabilities: got %v, want %v", got, wantCaps)
	}
	wantScope := []model.PathPattern{
		"repo/src/auth/**",
		"repo/src/auth/login.py",
		"repo/src/auth/session.py",
		"repo/tests/**",
		"repo/tests/test_auth.py",
	}
	if !reflect.DeepEqual(bd.Scope, wantScope) {
		t.Errorf("scope: got %v, want %v", bd.Scope, wantScope)
	}
	if !bd.Boundary.Allows(model.Request{Capability: model.CapWriteSrc, Scope: "repo/src/auth/login.py"}) {
		t.Error("write:src on the anchor file should be allowed")
	}
	if bd.Boundary.Allows(model.Request{Capability: model.CapWriteSrc, Scope: "repo/src/billing/pay.py"}) {
		t.Error("write:src outside the closure should not be allowed")
	}
}

func TestComputeDoesNotMutateNode(t *testing.T) {
	c := newComputer(t)
	node := model.RequirementNode{
		RID:     "r1",
		Goal:    model.GoalFixFailingTest,
		Anchors: map[string]string{model.AnchorPath: "src/auth/login.py"},
	}
	before := node.Clone()
	if _, err := c.Compute(context.Background(), node, nil); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(node.Anchors, before.Anchors) {
		t.Error("node anchors changed")
	}
}

func TestSetConfigResetsTemplates(t *testing.T) {
	c := newComputer(t)
	node := model.RequirementNode{RID: "r1", Goal: model.GoalFixFailingTest}
	bd, _ := c.Compute(context.Background(), node, nil)
	if len(bd.Template.Capabilities) != 5 {
		t.Fatalf("template: %v", bd.Template.Capabilities)
	}

	cfg := policy.DefaultConfig()
	cfg.RiskBudgets[model.GoalFixFailingTest] = 1
	c.SetConfig(cfg)

	bd, _ = c.Compute(context.Background(), node, nil)
	if !reflect.DeepEqual(bd.Template.Capabilities, []model.Capability{model.CapExecTest}) {
		t.Errorf("expected recomputed template, got %v", bd.Template.Capabilities)
	}
	if !reflect.DeepEqual(bd.Scope, []model.PathPattern{"repo/**"}) {
		t.Errorf("no anchors should yield repo/**, got %v", bd.Scope)
	}
}
