package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bo-Vane/agent-safeBoundary/internal/audit"
)

var (
	tailLines      int
	auditRID       string
	auditKind      string
	timelineFrom   string
	timelineTo     string
	timelineFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd, auditTimelineCmd)
	auditCmd.PersistentFlags().String("audit-log", "", "Path to audit log JSONL file (default: ~/.safeboundary/audit.jsonl)")
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().StringVar(&auditRID, "rid", "", "Only entries for this requirement")
	auditTailCmd.Flags().StringVar(&auditKind, "kind", "", "Only entries of this kind (decision|graph_event)")
	auditTimelineCmd.Flags().StringVar(&timelineFrom, "from", "", "Start time filter (RFC3339)")
	auditTimelineCmd.Flags().StringVar(&timelineTo, "to", "", "End time filter (RFC3339)")
	auditTimelineCmd.Flags().StringVarP(&timelineFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.NoArgs,
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit log entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

var auditTimelineCmd = &cobra.Command{
	Use:   "timeline [rid]",
	Short: "Render a requirement's decisions and events as a timeline",
	Long:  "Reads the audit log, filters by requirement ID and optional time range,\nand renders a human-readable timeline with summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTimeline,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(cfg.AuditLog)
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	entries, err := audit.Tail(cfg.AuditLog, tailLines, audit.Filter{RID: auditRID, Kind: auditKind})
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Print(audit.FormatLine(e))
	}
	return nil
}

func runAuditTimeline(cmd *cobra.Command, args []string) error {
	var filter audit.Filter
	if len(args) == 1 {
		filter.RID = args[0]
	}
	var err error
	if filter.From, err = parseTime("from", timelineFrom); err != nil {
		return err
	}
	if filter.To, err = parseTime("to", timelineTo); err != nil {
		return err
	}

	result, err := audit.Replay(cfg.AuditLog, filter)
	if err != nil {
		return err
	}
	switch timelineFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(result))
	}
	return nil
}

func parseTime(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s time %q: %w", flag, v, err)
	}
	return t, nil
}
