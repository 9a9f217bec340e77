package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Policy diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)

	budgets := filterChanges(r.Changes, "default_budget", "risk_budgets.")
	scope := filterChanges(r.Changes, "scope.")

	if len(budgets) > 0 {
		b.WriteString("\n  Budgets:\n")
		writeChanges(&b, budgets, "risk_budgets.")
	}
	if len(scope) > 0 {
		b.WriteString("\n  Scope:\n")
		writeChanges(&b, scope, "scope.")
	}

	if len(r.ListChanges) > 0 {
		b.WriteString("\n  Capability lists:\n")
		for _, lc := range r.ListChanges {
			sign := "+"
			if lc.Type == "removed" {
				sign = "-"
			}
			fmt.Fprintf(&b, "    %s %s: %s\n", sign, lc.List, lc.Capability)
		}
	}

	if len(r.TemplateChanges) > 0 {
		b.WriteString("\n  Templates:\n")
		for _, tc := range r.TemplateChanges {
			fmt.Fprintf(&b, "    %s: %v → %v\n", tc.Goal, tc.Old, tc.New)
			for _, c := range tc.Added {
				fmt.Fprintf(&b, "      + %s\n", c)
			}
			for _, c := range tc.Removed {
				fmt.Fprintf(&b, "      - %s\n", c)
			}
		}
	}

	return b.String()
}

func writeChanges(b *strings.Builder, changes []Change, trim string) {
	for _, c := range changes {
		name := strings.TrimPrefix(c.Field, trim)
		fmt.Fprintf(b, "    %-22s %s → %s", name+":", orNone(c.Old), orNone(c.New))
		if c.Comment != "" {
			fmt.Fprintf(b, "  (%s)", c.Comment)
		}
		b.WriteString("\n")
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

func filterChanges(changes []Change, prefixes ...string) []Change {
	var out []Change
	for _, c := range changes {
		for _, p := range prefixes {
			if strings.HasPrefix(c.Field, p) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
