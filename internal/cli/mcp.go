package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sbmcp "github.com/Bo-Vane/agent-safeBoundary/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("audit-log", "", "Path to audit log JSONL file (default: ~/.safeboundary/audit.jsonl)")
	mcpCmd.Flags().String("event-db", "", "Path to the SQLite graph event store (default: ~/.safeboundary/events.db)")
	mcpCmd.Flags().Duration("lease-ttl", 0, "Lease lifetime when the caller does not ask for one")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs the authorization engine as an MCP (Model Context Protocol) server\n" +
		"over stdio. Exposes instruct, authorize, run_tests, code_patch, boundary\n" +
		"and snapshot tools. Logs go to stderr.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("MCP server running on stdio", zap.String("root", cfg.Root))
	return sbmcp.New(rt.engine, version, logger).Run(ctx)
}
