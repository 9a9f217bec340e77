package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a replay as a text timeline.
func FormatTimeline(res *ReplayResult) string {
	label := res.RID
	if label == "" {
		label = "all requirements"
	}
	if len(res.Entries) == 0 {
		return fmt.Sprintf("Requirement: %s | No entries found.\n", label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Requirement: %s | %s–%s UTC\n", label,
		reformat(res.Summary.FirstTimestamp, "2006-01-02 15:04:05"),
		reformat(res.Summary.LastTimestamp, "15:04:05"))
	b.WriteString(separator + "\n")
	for _, e := range res.Entries {
		b.WriteString(FormatLine(e))
	}
	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(res.Summary))
	return b.String()
}

// FormatLine renders one entry as a timeline row.
func FormatLine(e Entry) string {
	what := e.Decision
	subject := e.Capability
	detail := e.Scope
	if e.Kind == KindEvent {
		what = e.Event
		subject = ""
		if detail == "" {
			detail = e.Reason
		}
	} else if e.Decision == Deny {
		detail = e.Scope + " [" + e.Violation + "]"
	}
	return fmt.Sprintf("%-10s %-8s %-18s %-16s %s\n",
		reformat(e.Timestamp, "15:04:05"), truncate(e.RID, 8), what, subject, truncate(detail, 48))
}

// FormatJSON renders a replay as indented JSON.
func FormatJSON(res *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: marshal replay: %w", err)
	}
	return string(data), nil
}

func formatSummary(s Summary) string {
	parts := []string{}
	if s.Grants > 0 {
		parts = append(parts, fmt.Sprintf("%d grant", s.Grants))
	}
	if s.Denies > 0 {
		parts = append(parts, fmt.Sprintf("%d deny", s.Denies))
	}
	if s.Events > 0 {
		parts = append(parts, fmt.Sprintf("%d event", s.Events))
	}
	out := "Summary: " + strings.Join(parts, ", ")
	if len(s.Violations) > 0 {
		kinds := make([]string, 0, len(s.Violations))
		for k := range s.Violations {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		vs := make([]string, len(kinds))
		for i, k := range kinds {
			vs[i] = fmt.Sprintf("%s=%d", k, s.Violations[k])
		}
		out += " | Violations: " + strings.Join(vs, " ")
	}
	return out + "\n"
}

func reformat(ts, layout string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
