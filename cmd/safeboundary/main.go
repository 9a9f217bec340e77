// Command safeboundary computes least-privilege boundaries for code-modifying
// agents and authorizes their requests over gRPC, MCP or the CLI.
package main

import "github.com/Bo-Vane/agent-safeBoundary/internal/cli"

func main() {
	cli.Execute()
}
