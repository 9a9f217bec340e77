package audit

import (
	"strconv"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

// Entry kinds.
const (
	KindDecision = "decision"
	KindEvent    = "graph_event"
)

// Decision outcomes.
const (
	Grant = "GRANT"
	Deny  = "DENY"
)

// Entry is one line in the hash-chained JSONL audit log.
// Only scalar fields, so json.Marshal output is byte-stable for hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	Kind       string `json:"kind"`
	RID        string `json:"rid"`
	Event      string `json:"event,omitempty"`
	Seq        string `json:"seq,omitempty"`
	Capability string `json:"capability,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Violation  string `json:"violation,omitempty"`
	Reason     string `json:"reason,omitempty"`
	LeaseID    string `json:"lease_id,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	PolicyHash string `json:"policy_hash"`
	PrevHash   string `json:"prev_hash"`
}

// EventEntry summarizes a graph event. Raw tool output is not copied; the
// event store keeps the full payload.
func EventEntry(ev model.GraphEvent, policyHash string) Entry {
	e := Entry{
		Timestamp:  ev.Timestamp.UTC().Format(TimestampFormat),
		Kind:       KindEvent,
		RID:        ev.RID,
		Event:      string(ev.Type),
		Seq:        strconv.FormatUint(ev.Seq, 10),
		PolicyHash: policyHash,
	}
	switch ev.Type {
	case model.EventUserInstruction:
		e.Reason = "goal=" + ev.Payload.Goal
	case model.EventRunTests:
		if ev.Payload.OK != nil && *ev.Payload.OK {
			e.Reason = "tests passed"
		} else {
			e.Reason = "tests failed"
		}
		if p := ev.Payload.AnchorsUpdate[model.AnchorTest]; p != "" {
			e.Scope = p
		}
	case model.EventCodePatch:
		e.Scope = ev.Payload.Path
		e.Reason = ev.Payload.Diff
	case model.EventTaskComplete:
		e.Reason = ev.Payload.Reason
	}
	return e
}
