// Package client talks to a safeboundary gRPC server.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	pb "github.com/Bo-Vane/agent-safeBoundary/api/boundary/v1"
	"github.com/Bo-Vane/agent-safeBoundary/internal/authorize"
	"github.com/Bo-Vane/agent-safeBoundary/internal/boundary"
	"github.com/Bo-Vane/agent-safeBoundary/internal/graph"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// BreakerThreshold is the number of consecutive unreachable calls after
// which the client stops dialing for BreakerCooldown.
const (
	BreakerThreshold = 5
	BreakerCooldown  = 10 * time.Second
)

// Client connects to a safeboundary server. Calls that fail with
// Unavailable are retried, and repeated outages open a circuit breaker;
// Authorize fails closed.
type Client struct {
	conn    *grpc.ClientConn
	breaker *gobreaker.CircuitBreaker

	// Timeout bounds each attempt.
	Timeout  time.Duration
	Attempts uint
	Delay    time.Duration
}

// New creates a client for addr. Extra dial options are appended to the
// insecure transport default.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("client: connect to %s: %w", addr, err)
	}
	return &Client{
		conn: conn,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "safeboundary:" + addr,
			Timeout: BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= BreakerThreshold
			},
			// Only an unreachable server counts against the breaker.
			IsSuccessful: func(err error) bool {
				return err == nil || !unavailable(err)
			},
		}),
		Timeout:  5 * time.Second,
		Attempts: 3,
		Delay:    100 * time.Millisecond,
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func call[Req, Resp any](ctx context.Context, c *Client, method string, req *Req) (*Resp, error) {
	resp := new(Resp)
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(c.Attempts),
		retry.Delay(c.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(unavailable),
	)
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, r.Do(func() error {
			actx, cancel := context.WithTimeout(ctx, c.Timeout)
			defer cancel()
			return pb.Invoke(actx, c.conn, method, req, resp)
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func unavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// Instruct starts a requirement on the server.
func (c *Client) Instruct(ctx context.Context, rid, goal string, constraints []string, anchors map[string]string) (model.RequirementNode, error) {
	resp, err := call[pb.InstructRequest, pb.NodeResponse](ctx, c, pb.MethodInstruct, &pb.InstructRequest{
		RID: rid, Goal: goal, Constraints: constraints, Anchors: anchors,
	})
	if err != nil {
		return model.RequirementNode{}, err
	}
	return resp.Node, nil
}

// RunTests reports a test run.
func (c *Client) RunTests(ctx context.Context, rid string, ok bool, stdout string) (model.RequirementNode, error) {
	resp, err := call[pb.RunTestsRequest, pb.NodeResponse](ctx, c, pb.MethodRunTests, &pb.RunTestsRequest{RID: rid, OK: ok, Stdout: stdout})
	if err != nil {
		return model.RequirementNode{}, err
	}
	return resp.Node, nil
}

// CodePatch reports a patch.
func (c *Client) CodePatch(ctx context.Context, rid, path, diff string) (model.RequirementNode, error) {
	resp, err := call[pb.CodePatchRequest, pb.NodeResponse](ctx, c, pb.MethodCodePatch, &pb.CodePatchRequest{RID: rid, Path: path, Diff: diff})
	if err != nil {
		return model.RequirementNode{}, err
	}
	return resp.Node, nil
}

// Authorize asks for a lease. Any RPC failure is a denial, never an error.
func (c *Client) Authorize(ctx context.Context, rid string, req model.Request, ttl time.Duration) authorize.Decision {
	in := &pb.AuthorizeRequest{RID: rid, Capability: req.Capability, Scope: req.Scope}
	if ttl > 0 {
		in.TTL = ttl.String()
	}
	resp, err := call[pb.AuthorizeRequest, pb.AuthorizeResponse](ctx, c, pb.MethodAuthorize, in)
	if err != nil {
		return authorize.Decision{
			Reason:     fmt.Sprintf("denied: boundary server unavailable (%v)", err),
			Suggestion: []string{"retry once the safeboundary server is reachable"},
		}
	}
	return *resp
}

// Boundary fetches the safe boundary of rid, or of the active node.
func (c *Client) Boundary(ctx context.Context, rid string) (boundary.Breakdown, error) {
	resp, err := call[pb.BoundaryRequest, pb.BoundaryResponse](ctx, c, pb.MethodBoundary, &pb.BoundaryRequest{RID: rid})
	if err != nil {
		return boundary.Breakdown{}, err
	}
	return *resp, nil
}

// Snapshot fetches the server's requirement graph.
func (c *Client) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	resp, err := call[pb.SnapshotRequest, pb.SnapshotResponse](ctx, c, pb.MethodSnapshot, &pb.SnapshotRequest{})
	if err != nil {
		return graph.Snapshot{}, err
	}
	return *resp, nil
}
