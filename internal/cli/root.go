package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bo-Vane/agent-safeBoundary/internal/config"
	"github.com/Bo-Vane/agent-safeBoundary/internal/logging"
)

var (
	configFile string

	// cfg and logger are populated before any subcommand runs.
	cfg    *config.Config
	logger *zap.Logger
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to safeboundary.yaml (default: ./safeboundary.yaml or ~/.safeboundary/)")
	pf.String("root", ".", "Repository root the boundary is computed over")
	pf.String("prefix", "", "Scope prefix (default: base name of --root)")
	pf.String("policy", "", "Path to policy YAML (default: ~/.safeboundary/policy.yaml)")
	pf.String("org-policy", "", "Path to organization policy YAML (default: ~/.safeboundary/org.yaml)")
	pf.String("log-level", "info", "Log level (debug|info|warn|error)")
	pf.String("log-format", "console", "Log format (json|console)")
}

var rootCmd = &cobra.Command{
	Use:   "safeboundary",
	Short: "Least-privilege capability boundaries for code-modifying agents",
	Long: "Derives a safe boundary of capabilities and file scopes from the current\n" +
		"requirement, its evidence and its constraints, and authorizes each agent\n" +
		"request against it with a time-boxed lease.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		l, err := logging.New(c.LogLevel, c.LogFormat)
		if err != nil {
			return err
		}
		cfg, logger = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
