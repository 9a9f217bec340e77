package cli

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

func init() {
	rootCmd.AddCommand(schemaCmd)
}

var schemaCmd = &cobra.Command{
	Use:       "schema <policy|org>",
	Short:     "Print the JSON Schema of a policy file",
	Long:      "Prints a JSON Schema for policy.yaml or org.yaml, for editor validation.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"policy", "org"},
	RunE:      runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	var v any
	switch args[0] {
	case "policy":
		v = &policy.Config{}
	case "org":
		v = &orgpolicy.Patterns{}
	default:
		return fmt.Errorf("unknown schema %q (want policy or org)", args[0])
	}
	out, err := generateSchema(v)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func generateSchema(v any) ([]byte, error) {
	r := jsonschema.Reflector{
		ExpandedStruct: true,
		FieldNameTag:   "yaml",
	}
	out, err := json.MarshalIndent(r.Reflect(v), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}
