package scenario

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

const loopScenario = `
name: "fix failing test offline"
files:
  src/auth/login.py: "import src.auth.session\n"
  src/auth/session.py: ""
  src/billing/pay.py: ""
  tests/test_auth.py: "from src.auth.login import login\n"
steps:
  - action: instruct
    rid: r-1
    goal: fix_failing_test
    constraints: [no-network]
    anchors: {test: "tests/test_auth.py::test_login"}
    expect_state: active
  - action: authorize
    capability: write:src
    scope: repo/src/auth/login.py
    expect: deny
    violation: evidence
  - action: run_tests
    stdout: "FAILED tests/test_auth.py::test_login - AssertionError"
  - action: authorize
    capability: write:src
    scope: repo/src/auth/login.py
    expect: grant
  - action: authorize
    capability: network:egress
    scope: pypi.org
    expect: deny
    reason_contains: no-network
  - action: authorize
    capability: write:src
    scope: repo/src/billing/pay.py
    expect: deny
    violation: scope
  - action: code_patch
    path: src/auth/login.py
    diff: fix hash
  - action: run_tests
    ok: true
    stdout: "1 passed"
    expect_state: completed
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoopScenarioPasses(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "loop.yaml", loopScenario)
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	result, err := Run(context.Background(), s, policy.DefaultConfig(), orgpolicy.NewDefault(), filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 {
		t.Fatalf("expected all steps to pass:\n%s", FormatText([]*RunResult{result}))
	}
	if result.Total != 8 || result.Passed != 8 {
		t.Fatalf("total=%d passed=%d", result.Total, result.Passed)
	}
}

func TestFailedExpectationDetected(t *testing.T) {
	s := &Scenario{
		Name:  "wrong expectation",
		Files: map[string]string{"src/app.py": ""},
		Steps: []Step{
			{Action: ActionInstruct, Goal: "fix_failing_test", Anchors: map[string]string{"path": "src/app.py"}},
			{Action: ActionAuthorize, Capability: "exec:deploy", Scope: "repo/src/app.py", Expect: "grant"},
			{Action: ActionAuthorize, Capability: "exec:deploy", Scope: "repo/src/app.py", Expect: "deny", Violation: "scope"},
			{Action: ActionAuthorize, Capability: "exec:test", Scope: "repo/src/app.py", Expect: "grant", ReasonContains: "never"},
		},
	}
	result, err := Run(context.Background(), s, policy.DefaultConfig(), orgpolicy.NewDefault(), "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed != 1 || result.Failed != 3 {
		t.Fatalf("passed=%d failed=%d: %+v", result.Passed, result.Failed, result.Steps)
	}
	if got := result.Steps[1]; got.Actual != "deny" || got.Expected != "grant" || got.Index != 2 {
		t.Fatalf("step 2 = %+v", got)
	}
	if got := result.Steps[2]; got.Actual != "deny (capability)" {
		t.Fatalf("step 3 actual = %q", got.Actual)
	}

	out := FormatText([]*RunResult{result})
	if !strings.Contains(out, "FAIL  wrong expectation (1/4)") || !strings.Contains(out, "1 of 1 scenarios failed") {
		t.Fatalf("unexpected text:\n%s", out)
	}
}

func TestStepErrorsAreFailures(t *testing.T) {
	s := &Scenario{
		Name: "errors",
		Steps: []Step{
			{Action: ActionRunTests, OK: true},
			{Action: "teleport"},
		},
	}
	result, err := Run(context.Background(), s, nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range result.Steps {
		if st.Passed || st.Actual != "error" {
			t.Fatalf("expected error step, got %+v", st)
		}
	}
}

func TestRootRelativeToScenarioFile(t *testing.T) {
	dir := t.TempDir()
	repo := filepath.Join(dir, "fixtures", "svc")
	if err := os.MkdirAll(filepath.Join(repo, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "src", "main.py"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeScenario(t, dir, "rel.yaml", `
name: relative root
root: fixtures/svc
steps:
  - action: instruct
    goal: fix_failing_test
    anchors: {path: src/main.py}
  - action: authorize
    capability: read:repo
    scope: svc/src/main.py
    expect: grant
`)
	result, err := LoadAndRun(context.Background(), path, filepath.Join(dir, "none.yaml"), filepath.Join(dir, "none-org.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 || result.File != path {
		t.Fatalf("result = %+v", result)
	}
}

func TestFileEscapingRepoRejected(t *testing.T) {
	s := &Scenario{Name: "escape", Files: map[string]string{"../evil.py": ""}}
	if _, err := Run(context.Background(), s, nil, nil, ""); err == nil {
		t.Fatal("expected error for escaping file")
	}
}

func TestInvalidScenarioYAML(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "bad.yaml", ":::not yaml\x00")
	if _, err := LoadAndRun(context.Background(), path, "", ""); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFormatJSON(t *testing.T) {
	out, err := FormatJSON([]*RunResult{{Name: "x", Total: 1, Passed: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"name": "x"`) {
		t.Fatalf("unexpected json %s", out)
	}
}
