package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Bo-Vane/agent-safeBoundary/internal/client"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

var (
	requestRID   string
	requestScope string
)

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().String("grpc-addr", "127.0.0.1:7443", "Address of a running boundary server")
	requestCmd.Flags().Duration("lease-ttl", 0, "Requested lease lifetime (default: server default)")
	requestCmd.Flags().StringVar(&requestRID, "rid", "", "Requirement ID (default: the server's active requirement)")
	requestCmd.Flags().StringVar(&requestScope, "scope", "", "Path or host the capability applies to")
}

var requestCmd = &cobra.Command{
	Use:   "request <capability>",
	Short: "Ask a running boundary server for a capability lease",
	Long: "Sends one authorization request to the server at --grpc-addr and prints\n" +
		"the decision as JSON. Fails closed: an unreachable server is a denial.\n" +
		"Exit code 0 on grant, 1 on denial.",
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

func runRequest(cmd *cobra.Command, args []string) error {
	c, err := client.New(cfg.GRPCAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	ttl := cfg.LeaseTTL
	if !cmd.Flags().Changed("lease-ttl") {
		ttl = 0
	}
	d := c.Authorize(cmd.Context(), requestRID, model.Request{
		Capability: model.Capability(args[0]),
		Scope:      requestScope,
	}, ttl)

	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !d.OK {
		os.Exit(1)
	}
	return nil
}
