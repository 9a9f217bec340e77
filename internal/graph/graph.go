// Package graph holds requirement nodes and the append-only event log that
// mutates them. Every state change is an event; replaying the log rebuilds
// the same nodes.
package graph

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bo-Vane/agent-safeBoundary/internal/metrics"
	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

var (
	ErrUnknownNode   = errors.New("graph: unknown requirement node")
	ErrNoActiveNode  = errors.New("graph: no active requirement node")
	ErrDuplicateNode = errors.New("graph: requirement node already exists")
)

// failedTestRe matches a pytest-style failure summary line.
var failedTestRe = regexp.MustCompile(`FAILED\s+(\S+\.\w+)::([A-Za-z_]\w*)`)

// Sink receives every event after it is appended, in per-node order.
type Sink func(model.GraphEvent)

// entry serializes mutation of one node.
type entry struct {
	mu   sync.Mutex
	node model.RequirementNode
}

// Graph is safe for concurrent use. Mutations of one node are serialized;
// different nodes proceed independently and share only the log append.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*entry
	order     []string
	activeRID string
	events    []model.GraphEvent
	seq       uint64
	sinks     []Sink

	logger  *zap.Logger
	metrics *metrics.Metrics

	// Now is replaceable for tests.
	Now func() time.Time
}

// New creates an empty graph.
func New(logger *zap.Logger, m *metrics.Metrics) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Graph{
		nodes:   make(map[string]*entry),
		events:  []model.GraphEvent{},
		logger:  logger.Named("graph"),
		metrics: m,
		Now:     time.Now,
	}
}

// AddSink registers s for all future events.
func (g *Graph) AddSink(s Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinks = append(g.sinks, s)
}

// NewRID returns a fresh requirement id.
func NewRID() string {
	return "r-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// OnUserInstruction creates an active node and makes it the active one.
// An empty rid is generated.
func (g *Graph) OnUserInstruction(rid, goal string, constraints []string, anchors map[string]string) (model.RequirementNode, error) {
	if rid == "" {
		rid = NewRID()
	}
	normalized := model.NormalizeConstraints(constraints)
	tags := make([]string, len(normalized))
	for i, c := range normalized {
		tags[i] = string(c)
	}
	clean := make(map[string]string, len(anchors))
	for k, v := range anchors {
		clean[k] = model.NormalizePath(v)
	}

	ev := model.GraphEvent{
		Type: model.EventUserInstruction,
		RID:  rid,
		Payload: model.EventPayload{
			Goal:        goal,
			Constraints: tags,
			Anchors:     clean,
		},
	}
	stamped, e, err := g.create(ev)
	if err != nil {
		return model.RequirementNode{}, err
	}
	// Later mutations of rid wait on e.mu, so sinks see creation first.
	g.emit(stamped)
	e.mu.Unlock()

	return g.Node(rid)
}

// OnRunTests records a test run. A failing run whose output names a failing
// test moves the test and path anchors to it. A passing run completes an
// active fix_failing_test node.
func (g *Graph) OnRunTests(rid string, ok bool, stdout string) error {
	return g.mutate(rid, func(n model.RequirementNode) []model.GraphEvent {
		payload := model.EventPayload{OK: model.BoolPtr(ok), Stdout: stdout}
		if !ok {
			if m := failedTestRe.FindStringSubmatch(stdout); m != nil {
				file := model.NormalizePath(m[1])
				payload.AnchorsUpdate = map[string]string{
					model.AnchorTest: file + "::" + m[2],
					model.AnchorPath: file,
				}
			}
		}
		evs := []model.GraphEvent{{Type: model.EventRunTests, RID: rid, Payload: payload}}
		if ok && n.Goal == model.GoalFixFailingTest && n.State == model.StateActive {
			evs = append(evs, model.GraphEvent{
				Type:    model.EventTaskComplete,
				RID:     rid,
				Payload: model.EventPayload{Reason: "tests passed"},
			})
		}
		return evs
	})
}

// OnCodePatch records a diff. State is unchanged.
func (g *Graph) OnCodePatch(rid, path, diffSummary string) error {
	return g.mutate(rid, func(model.RequirementNode) []model.GraphEvent {
		return []model.GraphEvent{{
			Type:    model.EventCodePatch,
			RID:     rid,
			Payload: model.EventPayload{Path: model.NormalizePath(path), Diff: diffSummary},
		}}
	})
}

// Apply appends an already-formed event and applies it. Used for replay;
// sinks are not notified. Events with a zero Seq get the next one.
func (g *Graph) Apply(ev model.GraphEvent) error {
	ev = ev.Clone()
	if ev.Type == model.EventUserInstruction {
		_, e, err := g.create(ev)
		if err != nil {
			return err
		}
		e.mu.Unlock()
		return nil
	}

	g.mu.RLock()
	e, ok := g.nodes[ev.RID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, ev.RID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	g.appendEvent(&ev)
	applyTo(&e.node, ev)
	return nil
}

// Replay applies events in order to an empty graph.
func (g *Graph) Replay(events []model.GraphEvent) error {
	for _, ev := range events {
		if err := g.Apply(ev); err != nil {
			return fmt.Errorf("graph: replay seq %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// Node returns a deep copy of the node.
func (g *Graph) Node(rid string) (model.RequirementNode, error) {
	g.mu.RLock()
	e, ok := g.nodes[rid]
	g.mu.RUnlock()
	if !ok {
		return model.RequirementNode{}, fmt.Errorf("%w: %s", ErrUnknownNode, rid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node.Clone(), nil
}

// ActiveRID returns the rid of the most recently instructed node.
func (g *Graph) ActiveRID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activeRID
}

// ActiveNode returns a copy of the active node.
func (g *Graph) ActiveNode() (model.RequirementNode, error) {
	rid := g.ActiveRID()
	if rid == "" {
		return model.RequirementNode{}, ErrNoActiveNode
	}
	return g.Node(rid)
}

// Events returns a copy of the log.
func (g *Graph) Events() []model.GraphEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.GraphEvent, len(g.events))
	for i, ev := range g.events {
		out[i] = ev.Clone()
	}
	return out
}

// create adds the node described by a USER_INSTRUCTION event.
// create registers the node and logs ev. On success the new entry is
// returned locked; the caller unlocks it.
func (g *Graph) create(ev model.GraphEvent) (model.GraphEvent, *entry, error) {
	anchors := make(map[string]string, len(ev.Payload.Anchors))
	for k, v := range ev.Payload.Anchors {
		anchors[k] = v
	}
	node := model.RequirementNode{
		RID:         ev.RID,
		Goal:        ev.Payload.Goal,
		Anchors:     anchors,
		Constraints: model.NormalizeConstraints(ev.Payload.Constraints),
		State:       model.StateActive,
		Evidences:   []model.Evidence{},
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[ev.RID]; exists {
		return model.GraphEvent{}, nil, fmt.Errorf("%w: %s", ErrDuplicateNode, ev.RID)
	}
	e := &entry{node: node}
	e.mu.Lock()
	g.nodes[ev.RID] = e
	g.order = append(g.order, ev.RID)
	g.activeRID = ev.RID
	g.appendLocked(&ev)
	return ev.Clone(), e, nil
}

// mutate serializes one mutation of rid. build sees the current node and
// returns the events to record; each is logged and then applied.
func (g *Graph) mutate(rid string, build func(model.RequirementNode) []model.GraphEvent) error {
	g.mu.RLock()
	e, ok := g.nodes[rid]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, rid)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	evs := build(e.node.Clone())
	g.mu.Lock()
	for i := range evs {
		g.appendLocked(&evs[i])
	}
	g.mu.Unlock()

	for _, ev := range evs {
		applyTo(&e.node, ev)
		if ev.Type == model.EventTaskComplete {
			g.logger.Info("requirement completed", zap.String("rid", rid))
		}
	}
	// Sinks run under the node lock so they observe per-node order.
	for _, ev := range evs {
		g.emit(ev.Clone())
	}
	return nil
}

func (g *Graph) appendEvent(ev *model.GraphEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.appendLocked(ev)
}

// appendLocked stamps ev if needed and appends it. Caller holds g.mu.
func (g *Graph) appendLocked(ev *model.GraphEvent) {
	if ev.Seq == 0 {
		ev.Seq = g.seq + 1
	}
	if ev.Seq > g.seq {
		g.seq = ev.Seq
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = g.Now().UTC()
	}
	g.events = append(g.events, ev.Clone())
	g.metrics.GraphEvents.WithLabelValues(string(ev.Type)).Inc()
}

func (g *Graph) emit(ev model.GraphEvent) {
	g.mu.RLock()
	sinks := append([]Sink(nil), g.sinks...)
	g.mu.RUnlock()
	for _, s := range sinks {
		s(ev)
	}
}

// applyTo is the single state transition function for non-creating events.
func applyTo(n *model.RequirementNode, ev model.GraphEvent) {
	switch ev.Type {
	case model.EventRunTests:
		kind := model.EvidenceTestFail
		if ev.Payload.OK != nil && *ev.Payload.OK {
			kind = model.EvidenceTestPass
		}
		n.Evidences = append(n.Evidences, model.Evidence{
			Kind:    kind,
			Payload: map[string]string{"raw": ev.Payload.Stdout},
		})
		if n.Anchors == nil {
			n.Anchors = make(map[string]string)
		}
		for k, v := range ev.Payload.AnchorsUpdate {
			n.Anchors[k] = v
		}
	case model.EventCodePatch:
		n.Evidences = append(n.Evidences, model.Evidence{
			Kind:    model.EvidenceDiff,
			Payload: map[string]string{"file": ev.Payload.Path, "summary": ev.Payload.Diff},
		})
	case model.EventTaskComplete:
		n.State = model.StateCompleted
	}
}

// NodeView is the printable form of a node.
type NodeView struct {
	RID         string               `json:"rid"`
	Goal        string               `json:"goal"`
	State       model.NodeState      `json:"state"`
	Anchors     map[string]string    `json:"anchors"`
	Constraints []string             `json:"constraints"`
	Evidences   []model.EvidenceKind `json:"evidences"`
}

// Snapshot is a fully materialized, detached view of the graph.
type Snapshot struct {
	ActiveRID string              `json:"active_rid"`
	Nodes     map[string]NodeView `json:"nodes"`
	Order     []string            `json:"order"`
	Events    []model.GraphEvent  `json:"events"`
}

// Snapshot copies every node and the log. Nothing in the result aliases
// graph state.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	order := append([]string(nil), g.order...)
	entries := make([]*entry, len(order))
	for i, rid := range order {
		entries[i] = g.nodes[rid]
	}
	active := g.activeRID
	g.mu.RUnlock()

	snap := Snapshot{
		ActiveRID: active,
		Nodes:     make(map[string]NodeView, len(order)),
		Order:     order,
	}
	for _, e := range entries {
		e.mu.Lock()
		n := e.node.Clone()
		e.mu.Unlock()

		cons := make([]string, len(n.Constraints))
		for i, c := range n.Constraints {
			cons[i] = string(c)
		}
		sort.Strings(cons)
		kinds := make([]model.EvidenceKind, len(n.Evidences))
		for i, ev := range n.Evidences {
			kinds[i] = ev.Kind
		}
		snap.Nodes[n.RID] = NodeView{
			RID:         n.RID,
			Goal:        n.Goal,
			State:       n.State,
			Anchors:     n.Anchors,
			Constraints: cons,
			Evidences:   kinds,
		}
	}
	snap.Events = g.Events()
	return snap
}
