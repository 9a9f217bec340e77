package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Bo-Vane/agent-safeBoundary/internal/graph"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "events.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAppendLoadRoundTrip(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	in := []model.GraphEvent{
		{Seq: 1, Timestamp: ts, Type: model.EventUserInstruction, RID: "r-1", Payload: model.EventPayload{
			Goal: "fix_failing_test", Constraints: []string{"no-network"}, Anchors: map[string]string{"path": "src/auth"},
		}},
		{Seq: 2, Timestamp: ts, Type: model.EventRunTests, RID: "r-1", Payload: model.EventPayload{
			OK: model.BoolPtr(false), Stdout: "FAILED tests/test_auth.py::test_login",
		}},
		{Seq: 3, Timestamp: ts, Type: model.EventUserInstruction, RID: "r-2", Payload: model.EventPayload{Goal: "refactor"}},
	}
	for _, ev := range in {
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Fatalf("timestamp %v != %v", got[0].Timestamp, ts)
	}
	if got[0].Payload.Anchors["path"] != "src/auth" || got[0].Payload.Constraints[0] != "no-network" {
		t.Fatalf("payload lost: %+v", got[0].Payload)
	}
	if got[1].Payload.OK == nil || *got[1].Payload.OK {
		t.Fatalf("ok flag lost: %+v", got[1].Payload)
	}

	only, err := s.LoadRID(ctx, "r-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(only) != 1 || only[0].Seq != 3 {
		t.Fatalf("LoadRID = %+v", only)
	}
}

func TestAppendDuplicateSeqIgnored(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	ev := model.GraphEvent{Seq: 1, Timestamp: time.Now(), Type: model.EventUserInstruction, RID: "r-1"}
	for i := 0; i < 2; i++ {
		if err := s.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestReopenKeepsEvents(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	if err := s.Append(ctx, model.GraphEvent{Seq: 1, Timestamp: time.Now(), Type: model.EventUserInstruction, RID: "r-1"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	n, _ := s2.Count(ctx)
	if n != 1 {
		t.Fatalf("count after reopen = %d", n)
	}
}

func TestGraphReplayFromStore(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	g := graph.New(nil, nil)
	g.AddSink(func(ev model.GraphEvent) {
		if err := s.Append(ctx, ev); err != nil {
			t.Errorf("sink append: %v", err)
		}
	})
	if _, err := g.OnUserInstruction("r-1", "fix_failing_test", []string{"no-network"}, map[string]string{"path": "src/auth"}); err != nil {
		t.Fatal(err)
	}
	if err := g.OnRunTests("r-1", false, "FAILED tests/test_auth.py::test_login - AssertionError"); err != nil {
		t.Fatal(err)
	}
	if err := g.OnCodePatch("r-1", "src/auth/login.py", "fix hash"); err != nil {
		t.Fatal(err)
	}
	if err := g.OnRunTests("r-1", true, "1 passed"); err != nil {
		t.Fatal(err)
	}

	events, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(g.Events()) {
		t.Fatalf("store has %d events, graph has %d", len(events), len(g.Events()))
	}

	rebuilt := graph.New(nil, nil)
	if err := rebuilt.Replay(events); err != nil {
		t.Fatalf("replay: %v", err)
	}
	n, err := rebuilt.Node("r-1")
	if err != nil {
		t.Fatal(err)
	}
	if n.State != model.StateCompleted {
		t.Fatalf("state = %s", n.State)
	}
	if n.Anchors[model.AnchorTest] != "tests/test_auth.py::test_login" {
		t.Fatalf("anchors = %v", n.Anchors)
	}
}
