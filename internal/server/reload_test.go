package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

func TestReloaderSwapsPolicyAndOrg(t *testing.T) {
	eng := testEngine(t)
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	orgPath := filepath.Join(dir, "org.yaml")

	r, err := NewReloader(eng, policyPath, orgPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Files created after the watcher started are picked up.
	if err := os.WriteFile(policyPath, []byte("risk_budgets:\n  fix_failing_test: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(orgPath, []byte("forbidden_paths:\n  - \"src/auth/**\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(eng.Template(model.GoalFixFailingTest).Capabilities) == 2 && len(eng.Org().ForbiddenPaths()) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := len(eng.Template(model.GoalFixFailingTest).Capabilities); got != 2 {
		t.Fatalf("policy not reloaded: %d capabilities", got)
	}
	if got := eng.Org().ForbiddenPaths(); len(got) != 1 || got[0] != "src/auth/**" {
		t.Fatalf("org not reloaded: %v", got)
	}
	if eng.PolicyHash() == "" || eng.OrgHash() == "" {
		t.Fatal("hashes not recorded")
	}
}

func TestReloadRejectsBadPolicy(t *testing.T) {
	eng, err := engine.New(context.Background(), engine.Options{Root: testRepo(t), PolicyHash: "sha256:orig"})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("default_budget: -4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := NewReloader(eng, path, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.watcher.Close()
	if err := r.ReloadPolicy(); err == nil {
		t.Fatal("expected error for invalid policy")
	}
	if eng.PolicyHash() != "sha256:orig" {
		t.Fatalf("hash changed to %q", eng.PolicyHash())
	}
}
