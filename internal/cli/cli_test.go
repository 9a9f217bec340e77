package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

func TestGenerateSchema(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want []string
	}{
		{"policy", &policy.Config{}, []string{`"risk_budgets"`, `"minimal_templates"`, `"depth_limit"`}},
		{"org", &orgpolicy.Patterns{}, []string{`"forbidden_paths"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := generateSchema(tt.v)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(out), w) {
					t.Errorf("schema missing %s", w)
				}
			}
		})
	}
}

func TestInitPolicyWritesLoadableFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "conf", "policy.yaml")
	orgPath := filepath.Join(dir, "conf", "org.yaml")

	rootCmd.SetArgs([]string{"init-policy", "--root", dir, "--policy", policyPath, "--org-policy", orgPath})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("init-policy: %v", err)
	}

	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		t.Fatalf("generated policy does not load: %v", err)
	}
	if cfg.Budget(model.GoalFixFailingTest) != 7 {
		t.Errorf("fix_failing_test budget = %d, want 7", cfg.Budget(model.GoalFixFailingTest))
	}
	org, err := orgpolicy.Load(orgPath)
	if err != nil {
		t.Fatalf("generated org policy does not load: %v", err)
	}
	if blocked, _ := org.Forbidden("repo/secrets/keys.py", "repo"); !blocked {
		t.Error("secrets/ should be forbidden by the generated org policy")
	}
}

func TestDemoFailureRemovesTempRepo(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	// Without the import the failing test's closure holds no source file,
	// so the expected writes are denied.
	orig := demoRepo["tests/test_auth.py"]
	demoRepo["tests/test_auth.py"] = "def test_login():\n    assert True\n"
	t.Cleanup(func() { demoRepo["tests/test_auth.py"] = orig })

	rootCmd.SetArgs([]string{"demo"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "decisions differed") {
		t.Fatalf("expected demo failure, got %v", err)
	}

	left, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("demo left %d entries in the temp dir", len(left))
	}
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := writeDefault(path, "default"); err == nil {
		t.Fatal("expected error for existing file")
	}

	initForce = true
	t.Cleanup(func() { initForce = false })
	if err := writeDefault(path, "default"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "default" {
		t.Errorf("content = %q", data)
	}
}

func TestParseTime(t *testing.T) {
	if ts, err := parseTime("from", ""); err != nil || !ts.IsZero() {
		t.Errorf("empty = %v, %v", ts, err)
	}
	if _, err := parseTime("from", "yesterday"); err == nil || !strings.Contains(err.Error(), "--from") {
		t.Errorf("expected --from error, got %v", err)
	}
	if ts, err := parseTime("to", "2026-01-02T03:04:05Z"); err != nil || ts.Hour() != 3 {
		t.Errorf("rfc3339 = %v, %v", ts, err)
	}
}
