package template

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

func TestSolveFixFailingTest(t *testing.T) {
	tmpl := Solve(policy.DefaultConfig(), model.GoalFixFailingTest)

	want := []model.Capability{
		model.CapExecTest,
		model.CapReadRepo,
		model.CapWriteSrc,
		model.CapExecLint,
		model.CapExecBuild,
	}
	if !reflect.DeepEqual(tmpl.Capabilities, want) {
		t.Fatalf("got %v, want %v", tmpl.Capabilities, want)
	}
	if tmpl.Risk != 7 || tmpl.Utility != 35 || tmpl.Budget != 7 {
		t.Errorf("risk/utility/budget: got %d/%d/%d", tmpl.Risk, tmpl.Utility, tmpl.Budget)
	}
}

func TestSolveNeverIncludesHardBan(t *testing.T) {
	cfg := policy.DefaultConfig()
	// Make the banned capabilities free and valuable; they must still be skipped.
	cfg.Attributes[model.GoalFixFailingTest][model.CapExecDeploy] = policy.Attribute{Risk: 0, Utility: 100}
	cfg.Attributes[model.GoalFixFailingTest][model.CapExecArbitrary] = policy.Attribute{Risk: 0, Utility: 100}
	cfg.RiskBudgets[model.GoalFixFailingTest] = 100

	tmpl := Solve(cfg, model.GoalFixFailingTest)
	for _, c := range tmpl.Capabilities {
		if cfg.HardBanSet()[c] {
			t.Errorf("hard-banned %s in template", c)
		}
	}
	if len(tmpl.Capabilities) != 7 {
		t.Errorf("large budget should admit every non-banned capability, got %v", tmpl.Capabilities)
	}
}

func TestSolveZeroBudget(t *testing.T) {
	cfg := policy.DefaultConfig()
	cfg.RiskBudgets[model.GoalFixFailingTest] = 0

	tmpl := Solve(cfg, model.GoalFixFailingTest)
	if len(tmpl.Capabilities) != 0 {
		t.Errorf("budget 0 with no zero-risk capabilities should be empty, got %v", tmpl.Capabilities)
	}

	cfg.Attributes[model.GoalFixFailingTest][model.CapReadRepo] = policy.Attribute{Risk: 0, Utility: 1}
	tmpl = Solve(cfg, model.GoalFixFailingTest)
	if !reflect.DeepEqual(tmpl.Capabilities, []model.Capability{model.CapReadRepo}) {
		t.Errorf("zero-risk capability should fit budget 0, got %v", tmpl.Capabilities)
	}
}

func TestSolveUnknownGoalUsesDefaults(t *testing.T) {
	// Default budget 3, default attribute (2, 0): exactly one capability fits.
	tmpl := Solve(policy.DefaultConfig(), "write_docs")
	if tmpl.Budget != 3 {
		t.Errorf("budget: got %d", tmpl.Budget)
	}
	if !reflect.DeepEqual(tmpl.Capabilities, []model.Capability{model.CapExecTest}) {
		t.Errorf("first capability should win the tie, got %v", tmpl.Capabilities)
	}
}

func TestSolveMonotoneInBudget(t *testing.T) {
	cfg := policy.DefaultConfig()
	prev := -1
	for b := 0; b <= 12; b++ {
		cfg.RiskBudgets[model.GoalFixFailingTest] = b
		tmpl := Solve(cfg, model.GoalFixFailingTest)
		if len(tmpl.Capabilities) < prev {
			t.Fatalf("budget %d: count dropped from %d to %d", b, prev, len(tmpl.Capabilities))
		}
		if tmpl.Risk > b {
			t.Fatalf("budget %d: risk %d exceeds budget", b, tmpl.Risk)
		}
		prev = len(tmpl.Capabilities)
	}
}

func TestSolveOutputIsCapabilityOrderSubsequence(t *testing.T) {
	cfg := policy.DefaultConfig()
	for b := 0; b <= 12; b++ {
		cfg.RiskBudgets[model.GoalFixFailingTest] = b
		tmpl := Solve(cfg, model.GoalFixFailingTest)
		pos := 0
		for _, c := range tmpl.Capabilities {
			for pos < len(cfg.Capabilities) && cfg.Capabilities[pos] != c {
				pos++
			}
			if pos == len(cfg.Capabilities) {
				t.Fatalf("budget %d: %v is not a subsequence of %v", b, tmpl.Capabilities, cfg.Capabilities)
			}
			pos++
		}
	}
}

func TestSolveDeterministic(t *testing.T) {
	cfg := policy.DefaultConfig()
	first := Solve(cfg, model.GoalFixFailingTest)
	for i := 0; i < 50; i++ {
		if got := Solve(cfg, model.GoalFixFailingTest); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %v vs %v", i, got, first)
		}
	}
}

func TestMinimal(t *testing.T) {
	got := Minimal(policy.DefaultConfig(), model.GoalFixFailingTest)
	want := []model.Capability{model.CapExecTest, model.CapReadRepo, model.CapWriteSrc}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := Minimal(policy.DefaultConfig(), "unknown"); len(got) != 0 {
		t.Errorf("unknown goal: got %v", got)
	}
}

func TestCacheComputesOnce(t *testing.T) {
	c := NewCache(policy.DefaultConfig(), nil)
	var computed atomic.Int32
	c.OnCompute = func(string) { computed.Add(1) }

	var wg sync.WaitGroup
	results := make([]Template, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(model.GoalFixFailingTest)
		}(i)
	}
	wg.Wait()

	if n := computed.Load(); n != 1 {
		t.Errorf("expected 1 computation, got %d", n)
	}
	for i := 1; i < len(results); i++ {
		if !reflect.DeepEqual(results[i], results[0]) {
			t.Fatalf("result %d differs", i)
		}
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 cached goal, got %d", c.Len())
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewCache(policy.DefaultConfig(), nil)
	a := c.Get(model.GoalFixFailingTest)
	a.Capabilities[0] = "mutated"
	b := c.Get(model.GoalFixFailingTest)
	if b.Capabilities[0] != model.CapExecTest {
		t.Errorf("cache entry was mutated through a returned template")
	}
}

func TestCacheReset(t *testing.T) {
	c := NewCache(policy.DefaultConfig(), nil)
	c.Get(model.GoalFixFailingTest)

	cfg := policy.DefaultConfig()
	cfg.RiskBudgets[model.GoalFixFailingTest] = 2
	c.Reset(cfg)
	if c.Len() != 0 {
		t.Fatalf("reset should clear cache")
	}

	tmpl := c.Get(model.GoalFixFailingTest)
	if tmpl.Budget != 2 || len(tmpl.Capabilities) != 2 {
		t.Errorf("expected recompute under new config, got %+v", tmpl)
	}
}
