package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bo-Vane/agent-safeBoundary/internal/audit"
	"github.com/Bo-Vane/agent-safeBoundary/internal/authorize"
	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

func init() {
	rootCmd.AddCommand(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the fix-failing-test demonstration (secrets write must be denied)",
	Long: "Creates a throwaway Python repository and plays an agent fixing a\n" +
		"failing test: writes are denied until a failing run is observed, then\n" +
		"granted only inside the dependency closure of the failing test.\n" +
		"Exits 1 if any decision differs from the expected one.",
	RunE: runDemo,
}

var demoRepo = map[string]string{
	"src/auth/login.py":   "from src.auth import session\n\ndef login(user, pw):\n    return session.open(user)\n",
	"src/auth/session.py": "def open(user):\n    return user\n",
	"src/billing/pay.py":  "def charge(amount):\n    return amount\n",
	"tests/test_auth.py":  "from src.auth.login import login\n\ndef test_login():\n    assert login('a', 'b') == 'a'\n",
	"secrets/keys.py":     "API_KEY = 'not-a-real-key'\n",
}

type demoStep struct {
	req  model.Request
	want bool
}

func runDemo(cmd *cobra.Command, args []string) error {
	fmt.Println("=== safeboundary fix_failing_test demo ===")
	fmt.Println("Purpose: show least-privilege boundaries following the task, not the agent.")
	fmt.Println()

	tmpDir, err := os.MkdirTemp("", "safeboundary-demo-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	root := filepath.Join(tmpDir, "repo")
	for rel, content := range demoRepo {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}

	auditPath := filepath.Join(tmpDir, "audit.jsonl")
	alog, err := audit.Open(auditPath)
	if err != nil {
		return err
	}
	defer alog.Close()

	ctx := cmd.Context()
	eng, err := engine.New(ctx, engine.Options{
		Root:   root,
		Policy: policy.DefaultConfig(),
		Org:    orgpolicy.NewDefault(),
		Audit:  alog,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	node, err := eng.Instruct(ctx, "", model.GoalFixFailingTest, []string{string(model.ConstraintNoNetwork)},
		map[string]string{model.AnchorTest: "tests/test_auth.py::test_login"})
	if err != nil {
		return err
	}
	fmt.Printf("Requirement %s: goal=%s constraints=%v\n\n", node.RID, node.Goal, node.Constraints)

	var (
		leases []model.Lease
		issued int
		failed int
	)
	play := func(title string, steps []demoStep) {
		fmt.Println(title)
		for _, s := range steps {
			leases = model.PruneExpired(leases, time.Now())
			d, err := eng.Authorize(ctx, node.RID, s.req, 0)
			if err != nil {
				fmt.Printf("  ! %s %s → error: %v\n", s.req.Capability, s.req.Scope, err)
				failed++
				continue
			}
			printDecision(s.req, d)
			if d.OK != s.want {
				failed++
			}
			if d.Lease != nil {
				leases = append(leases, *d.Lease)
				issued++
			}
		}
		fmt.Println()
	}

	write := func(scope string, want bool) demoStep {
		return demoStep{model.Request{Capability: model.CapWriteSrc, Scope: scope}, want}
	}

	play("Before any test run:", []demoStep{
		{model.Request{Capability: model.CapExecTest, Scope: "repo/tests/test_auth.py"}, true},
		write("repo/src/auth/login.py", false),
	})

	if _, err := eng.RunTests(ctx, node.RID, false, "FAILED tests/test_auth.py::test_login - AssertionError"); err != nil {
		return err
	}
	play("After a failing run of tests/test_auth.py::test_login:", []demoStep{
		write("repo/src/auth/login.py", true),
		write("repo/src/auth/session.py", true),
		write("repo/src/billing/pay.py", false),
		write("repo/secrets/keys.py", false),
		{model.Request{Capability: model.CapNetworkEgress, Scope: "pypi.org"}, false},
		{model.Request{Capability: model.CapExecDeploy, Scope: "repo/src/auth/login.py"}, false},
	})

	if _, err := eng.CodePatch(ctx, node.RID, "src/auth/login.py", "return the session user"); err != nil {
		return err
	}
	done, err := eng.RunTests(ctx, node.RID, true, "1 passed")
	if err != nil {
		return err
	}
	fmt.Printf("Tests pass: requirement %s is %s\n", done.RID, done.State)

	leases = model.PruneExpired(leases, time.Now())
	fmt.Printf("Leases issued: %d, live now: %d, live in %s: %d\n",
		issued, len(leases), eng.LeaseTTL(), len(model.PruneExpired(leases, time.Now().Add(eng.LeaseTTL()))))

	res := audit.Verify(auditPath)
	fmt.Printf("Audit chain: %d entries, valid=%v\n\n", res.Lines, res.Valid)
	if !res.Valid {
		failed++
	}

	if failed > 0 || done.State != model.StateCompleted {
		fmt.Printf("FAIL: %d decisions differed from the expected boundary.\n", failed)
		return fmt.Errorf("demo: %d decisions differed", failed)
	}
	fmt.Println("PASS: writes followed the evidence and never left the failing test's closure.")
	return nil
}

func printDecision(req model.Request, d authorize.Decision) {
	if d.OK {
		fmt.Printf("  ✓ %-15s %-28s granted until %s\n", req.Capability, req.Scope, d.Lease.ExpiresAt.Format(time.TimeOnly))
		return
	}
	fmt.Printf("  ✗ %-15s %-28s %s\n", req.Capability, req.Scope, d.Reason)
}

