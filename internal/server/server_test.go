package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pb "github.com/Bo-Vane/agent-safeBoundary/api/boundary/v1"
	"github.com/Bo-Vane/agent-safeBoundary/internal/authorize"
	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

func testRepo(t *testing.T) string {
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
	return root
}

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(context.Background(), engine.Options{Root: testRepo(t)})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng
}

// testServer serves eng over an in-memory listener and returns a connection.
func testServer(t *testing.T, eng *engine.Engine, cfg Config) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := New(eng, cfg, nil)
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return conn
}

func TestRoundTrip(t *testing.T) {
	conn := testServer(t, testEngine(t), Config{})
	ctx := context.Background()

	var node pb.NodeResponse
	err := pb.Invoke(ctx, conn, pb.MethodInstruct, &pb.InstructRequest{
		RID:         "r-1",
		Goal:        model.GoalFixFailingTest,
		Constraints: []string{"no-network"},
		Anchors:     map[string]string{"test": "tests/test_auth.py::test_login"},
	}, &node)
	if err != nil {
		t.Fatalf("Instruct: %v", err)
	}
	if node.Node.RID != "r-1" || node.Node.State != model.StateActive {
		t.Fatalf("node = %+v", node.Node)
	}

	if err := pb.Invoke(ctx, conn, pb.MethodRunTests, &pb.RunTestsRequest{Stdout: "FAILED tests/test_auth.py::test_login"}, &node); err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if len(node.Node.Evidences) != 1 || node.Node.Evidences[0].Kind != model.EvidenceTestFail {
		t.Fatalf("evidences = %+v", node.Node.Evidences)
	}

	var d pb.AuthorizeResponse
	if err := pb.Invoke(ctx, conn, pb.MethodAuthorize, &pb.AuthorizeRequest{
		Capability: model.CapWriteSrc, Scope: "repo/src/auth/login.py", TTL: "90s",
	}, &d); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !d.OK || d.Lease == nil {
		t.Fatalf("expected grant, got %+v", d)
	}
	if got := d.Lease.ExpiresAt.Sub(d.Lease.IssuedAt).Seconds(); got != 90 {
		t.Fatalf("lease ttl = %vs", got)
	}

	if err := pb.Invoke(ctx, conn, pb.MethodAuthorize, &pb.AuthorizeRequest{
		Capability: model.CapNetworkEgress, Scope: "pypi.org",
	}, &d); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if d.OK || d.Violation != authorize.ViolationConstraint || d.Constraint != model.ConstraintNoNetwork {
		t.Fatalf("expected constraint denial, got %+v", d)
	}

	var bd pb.BoundaryResponse
	if err := pb.Invoke(ctx, conn, pb.MethodBoundary, &pb.BoundaryRequest{}, &bd); err != nil {
		t.Fatalf("Boundary: %v", err)
	}
	if !bd.Boundary.Has(model.CapWriteSrc) || bd.Boundary.Has(model.CapNetworkEgress) {
		t.Fatalf("boundary = %v", bd.Boundary.Allowed)
	}

	if err := pb.Invoke(ctx, conn, pb.MethodCodePatch, &pb.CodePatchRequest{Path: "src/auth/login.py", Diff: "fix"}, &node); err != nil {
		t.Fatalf("CodePatch: %v", err)
	}
	if err := pb.Invoke(ctx, conn, pb.MethodRunTests, &pb.RunTestsRequest{OK: true, Stdout: "1 passed"}, &node); err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if node.Node.State != model.StateCompleted {
		t.Fatalf("state = %s", node.Node.State)
	}

	var snap pb.SnapshotResponse
	if err := pb.Invoke(ctx, conn, pb.MethodSnapshot, &pb.SnapshotRequest{}, &snap); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ActiveRID != "r-1" || len(snap.Events) != 5 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestErrorCodes(t *testing.T) {
	conn := testServer(t, testEngine(t), Config{})
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		req    any
		code   codes.Code
	}{
		{"no active node", pb.MethodRunTests, &pb.RunTestsRequest{OK: true}, codes.NotFound},
		{"unknown rid", pb.MethodBoundary, &pb.BoundaryRequest{RID: "r-x"}, codes.NotFound},
		{"missing goal", pb.MethodInstruct, &pb.InstructRequest{}, codes.InvalidArgument},
		{"missing path", pb.MethodCodePatch, &pb.CodePatchRequest{}, codes.InvalidArgument},
		{"missing capability", pb.MethodAuthorize, &pb.AuthorizeRequest{}, codes.InvalidArgument},
		{"bad ttl", pb.MethodAuthorize, &pb.AuthorizeRequest{Capability: model.CapExecTest, TTL: "soon"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			var out map[string]any
			switch req := tt.req.(type) {
			case *pb.RunTestsRequest:
				err = pb.Invoke(ctx, conn, tt.method, req, &out)
			case *pb.BoundaryRequest:
				err = pb.Invoke(ctx, conn, tt.method, req, &out)
			case *pb.InstructRequest:
				err = pb.Invoke(ctx, conn, tt.method, req, &out)
			case *pb.CodePatchRequest:
				err = pb.Invoke(ctx, conn, tt.method, req, &out)
			case *pb.AuthorizeRequest:
				err = pb.Invoke(ctx, conn, tt.method, req, &out)
			}
			if got := status.Code(err); got != tt.code {
				t.Fatalf("code = %v, want %v (err %v)", got, tt.code, err)
			}
		})
	}

	var node pb.NodeResponse
	req := &pb.InstructRequest{RID: "r-1", Goal: "refactor"}
	if err := pb.Invoke(ctx, conn, pb.MethodInstruct, req, &node); err != nil {
		t.Fatal(err)
	}
	if err := pb.Invoke(ctx, conn, pb.MethodInstruct, req, &node); status.Code(err) != codes.AlreadyExists {
		t.Fatalf("duplicate rid: %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	eng := testEngine(t)
	conn := testServer(t, eng, Config{RateLimit: 0.001, RateBurst: 2})
	ctx := context.Background()

	var snap pb.SnapshotResponse
	for i := 0; i < 2; i++ {
		if err := pb.Invoke(ctx, conn, pb.MethodSnapshot, &pb.SnapshotRequest{}, &snap); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	err := pb.Invoke(ctx, conn, pb.MethodSnapshot, &pb.SnapshotRequest{}, &snap)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestToStatusCancelled(t *testing.T) {
	if got := status.Code(toStatus(context.Canceled)); got != codes.Canceled {
		t.Fatalf("code = %v", got)
	}
	if got := status.Code(toStatus(os.ErrPermission)); got != codes.Internal {
		t.Fatalf("code = %v", got)
	}
}
