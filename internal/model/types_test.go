package model

import (
	"testing"
	"time"
)

func TestMatchPathGlobSemantics(t *testing.T) {
	tests := []struct {
		path    string
		pattern string
		want    bool
	}{
		{"repo/src/auth/login.py", "repo/src/auth/**", true},
		{"repo/src/auth/login.py", "repo/tests/**", false},
		{"a/b", "a/*", true},
		{"a/b/c", "a/*", false},
		{"a", "a/**", true},
		{"a/b/c/d", "a/**/d", true},
		{"a/d", "a/**/d", true},
		{"secrets/key.pem", "**/*.pem", true},
		{"key.pem", "**/*.pem", true},
		{"deep/er/key.pem", "**/*.pem", true},
		{"key.pemx", "**/*.pem", false},
		{`repo\src\auth\login.py`, "repo/src/auth/**", true},
		{"repo/src/auth/login.py", `repo\src\**`, true},
		{"pip install somepkg", "repo/**", false},
		{".env", ".env", true},
		{"src/.env", ".env", false},
		{"repo/tests/**", "repo/tests/**", true},
		{"repo/tests/**", "repo/**", true},
	}
	for _, tt := range tests {
		if got := MatchPath(tt.path, tt.pattern); got != tt.want {
			t.Errorf("MatchPath(%q, %q) = %v, want %v", tt.path, tt.pattern, got, tt.want)
		}
	}
}

func TestSafeBoundaryAllows(t *testing.T) {
	sb := SafeBoundary{Allowed: map[Capability][]PathPattern{
		CapWriteSrc: {"repo/src/auth/**", "repo/tests/**"},
		CapExecTest: {"repo/**"},
	}}

	tests := []struct {
		req  Request
		want bool
	}{
		{Request{CapWriteSrc, "repo/src/auth/login.py"}, true},
		{Request{CapWriteSrc, "repo/src/utils/crypto.py"}, false},
		{Request{CapExecTest, "repo/tests/test_auth.py"}, true},
		{Request{CapNetworkEgress, "repo/src/auth/login.py"}, false},
	}
	for _, tt := range tests {
		if got := sb.Allows(tt.req); got != tt.want {
			t.Errorf("Allows(%+v) = %v, want %v", tt.req, got, tt.want)
		}
		// Allows must agree with membership plus at least one matching pattern.
		want := false
		for _, p := range sb.Allowed[tt.req.Capability] {
			if MatchPath(tt.req.Scope, p) {
				want = true
			}
		}
		if sb.Allows(tt.req) != want {
			t.Errorf("Allows(%+v) disagrees with pattern membership", tt.req)
		}
	}
}

func TestLeaseExpiryBoundary(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := Lease{Capability: CapExecTest, ScopePatterns: []PathPattern{"repo/**"}, ExpiresAt: at}

	if l.IsExpiredAt(at.Add(-time.Nanosecond)) {
		t.Fatal("lease must be live strictly before expires_at")
	}
	if !l.IsExpiredAt(at) {
		t.Fatal("lease must be expired at exactly expires_at")
	}
	if !l.IsExpiredAt(at.Add(time.Hour)) {
		t.Fatal("lease must be expired after expires_at")
	}
	if !l.Permits("repo/src/x.py", at.Add(-time.Second)) {
		t.Fatal("live lease should permit in-scope path")
	}
	if l.Permits("repo/src/x.py", at) {
		t.Fatal("expired lease must not permit")
	}
	if l.Permits("other/x.py", at.Add(-time.Second)) {
		t.Fatal("lease must not permit out-of-scope path")
	}

	src := Lease{Capability: CapWriteSrc, ScopePatterns: []PathPattern{"repo/src/auth/**"}, ExpiresAt: at}
	live := at.Add(-time.Second)
	for _, scope := range []string{
		"repo/src/auth/../../secrets/api.key",
		`repo\src\auth\..\..\secrets\api.key`,
		"../repo/src/auth/login.py",
	} {
		if src.Permits(scope, live) {
			t.Errorf("lease must not permit %q", scope)
		}
	}
	if !src.Permits("repo/src/auth/./login.py", live) {
		t.Error("lease should permit a path that cleans into scope")
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"", "", true},
		{"repo/src/a.py", "repo/src/a.py", true},
		{`repo\src\..\b.py`, "repo/b.py", true},
		{"repo/src/auth/../../secrets/k", "repo/secrets/k", true},
		{"repo/../../x", "../x", false},
		{"..", "..", false},
		{"/repo/../..", "/", true},
	}
	for _, tt := range tests {
		got, ok := CleanPath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CleanPath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPruneExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	leases := []Lease{
		{ID: "a", ExpiresAt: now.Add(-time.Minute)},
		{ID: "b", ExpiresAt: now.Add(time.Minute)},
		{ID: "c", ExpiresAt: now},
		{ID: "d", ExpiresAt: now.Add(time.Hour)},
	}
	live := PruneExpired(leases, now)
	if len(live) != 2 || live[0].ID != "b" || live[1].ID != "d" {
		t.Fatalf("unexpected live leases: %+v", live)
	}
	if leases[0].ID != "a" {
		t.Fatal("PruneExpired must not modify its input")
	}
}

func TestNodeCloneSharesNothing(t *testing.T) {
	n := RequirementNode{
		RID:         "r0",
		Goal:        GoalFixFailingTest,
		Anchors:     map[string]string{AnchorPath: "src/a.py"},
		Constraints: []Constraint{ConstraintNoNetwork},
		State:       StateActive,
		Evidences:   []Evidence{{Kind: EvidenceTestFail, Payload: map[string]string{"raw": "x"}}},
	}
	c := n.Clone()
	c.Anchors[AnchorPath] = "changed"
	c.Evidences[0].Payload["raw"] = "changed"
	c.Constraints[0] = "other"

	if n.Anchors[AnchorPath] != "src/a.py" {
		t.Fatal("anchors shared with clone")
	}
	if n.Evidences[0].Payload["raw"] != "x" {
		t.Fatal("evidence payload shared with clone")
	}
	if n.Constraints[0] != ConstraintNoNetwork {
		t.Fatal("constraints shared with clone")
	}
}

func TestNormalizeConstraints(t *testing.T) {
	got := NormalizeConstraints([]string{"no-network", "", "a", "no-network"})
	if len(got) != 2 || got[0] != "a" || got[1] != ConstraintNoNetwork {
		t.Fatalf("unexpected constraints: %v", got)
	}
}
