// Package boundaryv1 defines the safeboundary.v1.Boundary gRPC service.
// Messages travel as google.protobuf.Struct and are mapped to the Go types
// below through their JSON form.
package boundaryv1

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Bo-Vane/agent-safeBoundary/internal/authorize"
	"github.com/Bo-Vane/agent-safeBoundary/internal/boundary"
	"github.com/Bo-Vane/agent-safeBoundary/internal/graph"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "safeboundary.v1.Boundary"

// Method names.
const (
	MethodInstruct  = "Instruct"
	MethodRunTests  = "RunTests"
	MethodCodePatch = "CodePatch"
	MethodAuthorize = "Authorize"
	MethodBoundary  = "Boundary"
	MethodSnapshot  = "Snapshot"
)

// FullMethod returns "/safeboundary.v1.Boundary/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

type InstructRequest struct {
	RID         string            `json:"rid,omitempty"`
	Goal        string            `json:"goal"`
	Constraints []string          `json:"constraints,omitempty"`
	Anchors     map[string]string `json:"anchors,omitempty"`
}

type RunTestsRequest struct {
	RID    string `json:"rid,omitempty"`
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout,omitempty"`
}

type CodePatchRequest struct {
	RID  string `json:"rid,omitempty"`
	Path string `json:"path"`
	Diff string `json:"diff,omitempty"`
}

// NodeResponse carries the node after a graph event.
type NodeResponse struct {
	Node model.RequirementNode `json:"node"`
}

// AuthorizeRequest asks for one capability. TTL is a Go duration string;
// empty means the server default.
type AuthorizeRequest struct {
	RID        string           `json:"rid,omitempty"`
	Capability model.Capability `json:"capability"`
	Scope      string           `json:"scope"`
	TTL        string           `json:"ttl,omitempty"`
}

type AuthorizeResponse = authorize.Decision

type BoundaryRequest struct {
	RID string `json:"rid,omitempty"`
}

type BoundaryResponse = boundary.Breakdown

type SnapshotRequest struct{}

type SnapshotResponse = graph.Snapshot

// BoundaryServer is implemented by the server.
type BoundaryServer interface {
	Instruct(context.Context, *InstructRequest) (*NodeResponse, error)
	RunTests(context.Context, *RunTestsRequest) (*NodeResponse, error)
	CodePatch(context.Context, *CodePatchRequest) (*NodeResponse, error)
	Authorize(context.Context, *AuthorizeRequest) (*AuthorizeResponse, error)
	Boundary(context.Context, *BoundaryRequest) (*BoundaryResponse, error)
	Snapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
}

// ServiceDesc is registered with grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BoundaryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodInstruct, BoundaryServer.Instruct),
		unary(MethodRunTests, BoundaryServer.RunTests),
		unary(MethodCodePatch, BoundaryServer.CodePatch),
		unary(MethodAuthorize, BoundaryServer.Authorize),
		unary(MethodBoundary, BoundaryServer.Boundary),
		unary(MethodSnapshot, BoundaryServer.Snapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "safeboundary/v1/boundary.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv BoundaryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(BoundaryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	handle := func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		req := new(Req)
		if err := FromStruct(in, req); err != nil {
			return nil, err
		}
		resp, err := call(srv.(BoundaryServer), ctx, req)
		if err != nil {
			return nil, err
		}
		return ToStruct(resp)
	}
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return handle(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return handle(srv, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// Invoke calls method on conn with req and decodes the reply into resp.
func Invoke[Req, Resp any](ctx context.Context, conn grpc.ClientConnInterface, method string, req *Req, resp *Resp, opts ...grpc.CallOption) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return err
	}
	return FromStruct(out, resp)
}

// ToStruct converts v to a Struct through its JSON encoding.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("boundaryv1: marshal: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("boundaryv1: to struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v through its JSON encoding.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("boundaryv1: from struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("boundaryv1: unmarshal: %w", err)
	}
	return nil
}
