package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bo-Vane/agent-safeBoundary/internal/engine"
)

var (
	previewGoal        string
	previewConstraints []string
	previewAnchors     map[string]string
)

func init() {
	rootCmd.AddCommand(scopeCmd, previewCmd)
	for _, c := range []*cobra.Command{scopeCmd, previewCmd} {
		c.Flags().StringToStringVarP(&previewAnchors, "anchor", "a", nil, "Anchor as kind=value, e.g. path=src/auth/login.py or test=tests/test_auth.py::test_login")
	}
	previewCmd.Flags().StringVarP(&previewGoal, "goal", "g", "", "Requirement goal (required)")
	previewCmd.Flags().StringSliceVarP(&previewConstraints, "constraint", "c", nil, "User constraint, e.g. no-network (repeatable)")
	previewCmd.MarkFlagRequired("goal")
}

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Expand anchors into the file scope of a requirement",
	Long: "Builds the import graph of --root and prints the scope that the given\n" +
		"anchors expand to, with organization-forbidden paths removed.",
	Args: cobra.NoArgs,
	RunE: runScope,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Compute the safe boundary for a hypothetical requirement",
	Long: "Creates a requirement in a throwaway in-memory graph and prints every\n" +
		"bound of its safe boundary: template, scope, constraint bound and result.\n" +
		"Nothing is persisted or audited.",
	Args: cobra.NoArgs,
	RunE: runPreview,
}

func offlineEngine(cmd *cobra.Command) (*engine.Engine, error) {
	p, err := loadPolicies()
	if err != nil {
		return nil, err
	}
	return engine.New(cmd.Context(), engine.Options{
		Root:       cfg.Root,
		Prefix:     cfg.Prefix,
		Policy:     p.cfg,
		PolicyHash: p.cfgHash,
		Org:        p.org,
		OrgHash:    p.orgHash,
		Logger:     logger,
	})
}

func runScope(cmd *cobra.Command, args []string) error {
	eng, err := offlineEngine(cmd)
	if err != nil {
		return err
	}
	patterns, err := eng.Expander().Expand(cmd.Context(), previewAnchors, eng.Org())
	if err != nil {
		return err
	}
	for _, p := range patterns {
		fmt.Println(p)
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	eng, err := offlineEngine(cmd)
	if err != nil {
		return err
	}
	node, err := eng.Instruct(cmd.Context(), "", previewGoal, previewConstraints, previewAnchors)
	if err != nil {
		return err
	}
	bd, err := eng.Boundary(cmd.Context(), node.RID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(bd, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
