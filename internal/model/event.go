package model

import "time"

// EventType names a requirement-graph event.
type EventType string

const (
	EventUserInstruction EventType = "USER_INSTRUCTION"
	EventRunTests        EventType = "RUN_TESTS"
	EventCodePatch       EventType = "CODE_PATCH"
	EventTaskComplete    EventType = "TASK_COMPLETE"
)

// EventPayload carries the event data. A struct rather than map[string]any
// so that replay from JSON or SQLite reproduces the same values.
type EventPayload struct {
	Goal          string            `json:"goal,omitempty"`
	Constraints   []string          `json:"constraints,omitempty"`
	Anchors       map[string]string `json:"anchors,omitempty"`
	OK            *bool             `json:"ok,omitempty"`
	Stdout        string            `json:"stdout,omitempty"`
	AnchorsUpdate map[string]string `json:"anchors_update,omitempty"`
	Path          string            `json:"path,omitempty"`
	Diff          string            `json:"diff,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// GraphEvent is one append-only entry of the requirement graph log.
type GraphEvent struct {
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"ts"`
	Type      EventType    `json:"etype"`
	RID       string       `json:"rid"`
	Payload   EventPayload `json:"payload"`
}

// Clone returns a deep copy.
func (e GraphEvent) Clone() GraphEvent {
	out := e
	out.Payload.Constraints = append([]string(nil), e.Payload.Constraints...)
	out.Payload.Anchors = cloneStrings(e.Payload.Anchors)
	out.Payload.AnchorsUpdate = cloneStrings(e.Payload.AnchorsUpdate)
	if e.Payload.OK != nil {
		ok := *e.Payload.OK
		out.Payload.OK = &ok
	}
	return out
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
