package redact

import (
	"strings"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// Placeholder returns the replacement text for a match of typ.
func Placeholder(typ PatternType) string {
	return "[REDACTED:" + string(typ) + "]"
}

// Scrub replaces every match in text with its placeholder.
func Scrub(text string) string {
	matches := Scan(text)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.Start])
		b.WriteString(Placeholder(m.Type))
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// Event returns a copy of ev with free-text payload fields scrubbed.
// Structured fields (anchors, goal, path) are kept verbatim so a replay of
// the copy reproduces the same node state.
func Event(ev model.GraphEvent) model.GraphEvent {
	out := ev.Clone()
	out.Payload.Stdout = Scrub(ev.Payload.Stdout)
	out.Payload.Diff = Scrub(ev.Payload.Diff)
	out.Payload.Reason = Scrub(ev.Payload.Reason)
	return out
}
