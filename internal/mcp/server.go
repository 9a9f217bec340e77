// Package mcp exposes the engine to an agent as MCP tools over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
)

// Server wraps the MCP SDK server around an engine.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *engine.Engine
	logger    *zap.Logger
	version   string
}

// New creates an MCP server with all tools registered.
func New(eng *engine.Engine, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if version == "" {
		version = "dev"
	}
	s := &Server{
		engine:  eng,
		logger:  logger.Named("mcp"),
		version: version,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "safeboundary",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on stdio. Blocks until ctx is cancelled or the client hangs up.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all safeboundary tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeboundary_instruct",
		Description: "Start a new requirement (task) from a user instruction. Returns the requirement node; it becomes the active one.",
	}, s.handleInstruct)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeboundary_authorize",
		Description: "Ask for a time-boxed lease on one capability and scope. Denials come back with the violated rule and suggestions.",
	}, s.handleAuthorize)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeboundary_run_tests",
		Description: "Report a test run. A failing pytest run moves the anchors to the failing test; a passing run can complete the task.",
	}, s.handleRunTests)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeboundary_code_patch",
		Description: "Report a code patch applied to a file.",
	}, s.handleCodePatch)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeboundary_boundary",
		Description: "Show the current safe boundary: which capabilities are allowed on which paths.",
	}, s.handleBoundary)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeboundary_snapshot",
		Description: "Show every requirement node and the event log.",
	}, s.handleSnapshot)
}
