package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Bo-Vane/agent-safeBoundary/internal/scope"
	"github.com/Bo-Vane/agent-safeBoundary/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.String("grpc-addr", "127.0.0.1:7443", "gRPC listen address")
	f.String("http-addr", "127.0.0.1:7080", "Health and metrics listen address (empty disables)")
	f.String("audit-log", "", "Path to audit log JSONL file (default: ~/.safeboundary/audit.jsonl)")
	f.String("event-db", "", "Path to the SQLite graph event store (default: ~/.safeboundary/events.db)")
	f.Duration("lease-ttl", 0, "Lease lifetime when the caller does not ask for one")
	f.Float64("rate-limit", 50, "Max authorization calls per second (0 disables)")
	f.Int("rate-burst", 100, "Rate limiter burst")
	f.Bool("watch", true, "Hot-reload policy files and invalidate the import graph on source changes")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the boundary server",
	Long: "Runs the authorization engine as a gRPC server for agent runtimes, with\n" +
		"an HTTP listener for /healthz and /metrics. Graph events persist to the\n" +
		"event store and are replayed on restart.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(rt.engine, server.Config{
		Addr:      cfg.GRPCAddr,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down boundary server")
		srv.GracefulStop()
		return nil
	})

	if cfg.HTTPAddr != "" {
		h := server.NewHandler(rt.engine, rt.registry)
		g.Go(func() error { return server.ServeHTTP(gctx, cfg.HTTPAddr, h, logger) })
	}

	if cfg.Watch {
		if reloader, err := server.NewReloader(rt.engine, cfg.PolicyPath, cfg.OrgPath, logger); err != nil {
			logger.Warn("policy hot-reload disabled", zap.Error(err))
		} else {
			g.Go(func() error { return reloader.Run(gctx) })
		}
		if watcher, err := scope.NewWatcher(rt.engine.Expander(), logger); err != nil {
			logger.Warn("source watching disabled", zap.Error(err))
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	logger.Info("boundary server started",
		zap.String("root", cfg.Root),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("policy_hash", rt.engine.PolicyHash()),
	)
	return g.Wait()
}
