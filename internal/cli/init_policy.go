package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Bo-Vane/agent-safeBoundary/internal/orgpolicy"
	"github.com/Bo-Vane/agent-safeBoundary/internal/policy"
)

var initForce bool

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	initPolicyCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Generate default policy.yaml and org.yaml with comments",
	Long: "Writes the default capability tables to --policy and the default\n" +
		"organization forbidden paths to --org-policy (both under\n" +
		"~/.safeboundary/ unless overridden). Edit them to tune the boundary.",
	RunE: runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	files := []struct {
		path    string
		content string
	}{
		{cfg.PolicyPath, policy.DefaultConfigYAML()},
		{cfg.OrgPath, orgpolicy.DefaultYAML()},
	}
	for _, f := range files {
		if err := writeDefault(f.path, f.content); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", f.path)
	}
	return nil
}

func writeDefault(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
