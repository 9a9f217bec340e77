// Package server exposes the engine over gRPC and an HTTP operations
// endpoint, and hot-reloads policy files.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/Bo-Vane/agent-safeBoundary/api/boundary/v1"
	"github.com/Bo-Vane/agent-safeBoundary/internal/authorize"
	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
	"github.com/Bo-Vane/agent-safeBoundary/internal/graph"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// Config holds gRPC server settings.
type Config struct {
	Addr string
	// RateLimit is requests per second across all callers; zero disables it.
	RateLimit float64
	RateBurst int
}

// Server implements the safeboundary.v1.Boundary service.
type Server struct {
	engine *engine.Engine
	logger *zap.Logger
	cfg    Config

	grpcServer *grpc.Server
}

// New creates a gRPC server over eng.
func New(eng *engine.Engine, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: eng,
		logger: logger.Named("grpc"),
		cfg:    cfg,
	}

	var opts []grpc.ServerOption
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, grpc.UnaryInterceptor(s.rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst))))
	}
	s.grpcServer = grpc.NewServer(opts...)
	pb.Register(s.grpcServer, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on an existing listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop waits for in-flight calls and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// rateLimit rejects calls once the shared limiter is exhausted.
func (s *Server) rateLimit(lim *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !lim.Allow() {
			s.engine.Metrics().RateLimited.Inc()
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

func (s *Server) Instruct(ctx context.Context, req *pb.InstructRequest) (*pb.NodeResponse, error) {
	if req.Goal == "" {
		return nil, status.Error(codes.InvalidArgument, "goal is required")
	}
	n, err := s.engine.Instruct(ctx, req.RID, req.Goal, req.Constraints, req.Anchors)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.NodeResponse{Node: n}, nil
}

func (s *Server) RunTests(ctx context.Context, req *pb.RunTestsRequest) (*pb.NodeResponse, error) {
	n, err := s.engine.RunTests(ctx, req.RID, req.OK, req.Stdout)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.NodeResponse{Node: n}, nil
}

func (s *Server) CodePatch(ctx context.Context, req *pb.CodePatchRequest) (*pb.NodeResponse, error) {
	if req.Path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}
	n, err := s.engine.CodePatch(ctx, req.RID, req.Path, req.Diff)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.NodeResponse{Node: n}, nil
}

func (s *Server) Authorize(ctx context.Context, req *pb.AuthorizeRequest) (*pb.AuthorizeResponse, error) {
	if req.Capability == "" {
		return nil, status.Error(codes.InvalidArgument, "capability is required")
	}
	var ttl time.Duration
	if req.TTL != "" {
		var err error
		if ttl, err = time.ParseDuration(req.TTL); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid ttl %q: %v", req.TTL, err)
		}
	}
	d, err := s.engine.Authorize(ctx, req.RID, model.Request{Capability: req.Capability, Scope: req.Scope}, ttl)
	if err != nil {
		return nil, toStatus(err)
	}
	return &d, nil
}

func (s *Server) Boundary(ctx context.Context, req *pb.BoundaryRequest) (*pb.BoundaryResponse, error) {
	bd, err := s.engine.Boundary(ctx, req.RID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &bd, nil
}

func (s *Server) Snapshot(ctx context.Context, _ *pb.SnapshotRequest) (*pb.SnapshotResponse, error) {
	snap := s.engine.Snapshot()
	return &snap, nil
}

// toStatus maps engine errors to gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, graph.ErrUnknownNode), errors.Is(err, graph.ErrNoActiveNode):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, graph.ErrDuplicateNode):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, authorize.ErrInvalidTTL), errors.Is(err, authorize.ErrNilNode):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}
