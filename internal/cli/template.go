package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
	"github.com/Bo-Vane/agent-safeBoundary/internal/template"
)

func init() {
	rootCmd.AddCommand(templateCmd)
}

var templateCmd = &cobra.Command{
	Use:   "template <goal>",
	Short: "Show the capability template chosen for a goal",
	Long: "Solves the risk-budgeted capability selection for a goal under the\n" +
		"loaded policy and prints it next to the configured minimal set.",
	Args: cobra.ExactArgs(1),
	RunE: runTemplate,
}

func runTemplate(cmd *cobra.Command, args []string) error {
	p, err := loadPolicies()
	if err != nil {
		return err
	}
	goal := args[0]
	out, err := json.MarshalIndent(struct {
		template.Template
		Minimal []model.Capability `json:"minimal"`
	}{
		Template: template.Solve(p.cfg, goal),
		Minimal:  template.Minimal(p.cfg, goal),
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
