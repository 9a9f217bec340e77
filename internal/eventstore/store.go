// Package eventstore persists requirement-graph events in SQLite so the
// graph can be rebuilt by replay after a restart.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Bo-Vane/agent-safeBoundary/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS graph_events (
	seq     INTEGER PRIMARY KEY,
	ts      TEXT NOT NULL,
	etype   TEXT NOT NULL,
	rid     TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_events_rid ON graph_events(rid);
`

// Store is an append-only table of graph events keyed by sequence number.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("eventstore: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open: %w", err)
	}
	// Single connection serializes writers and keeps ":memory:" on one database.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		schema,
	} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("eventstore: init: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Append stores one event. Re-appending an existing seq is a no-op so replays
// that re-emit are harmless.
func (s *Store) Append(ctx context.Context, ev model.GraphEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("eventstore: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO graph_events (seq, ts, etype, rid, payload) VALUES (?, ?, ?, ?, ?)`,
		int64(ev.Seq), ev.Timestamp.UTC().Format(time.RFC3339Nano), string(ev.Type), ev.RID, string(payload))
	if err != nil {
		return fmt.Errorf("eventstore: append seq %d: %w", ev.Seq, err)
	}
	return nil
}

// Load returns all events in sequence order.
func (s *Store) Load(ctx context.Context) ([]model.GraphEvent, error) {
	return s.query(ctx, `SELECT seq, ts, etype, rid, payload FROM graph_events ORDER BY seq`)
}

// LoadRID returns the events of one requirement in sequence order.
func (s *Store) LoadRID(ctx context.Context, rid string) ([]model.GraphEvent, error) {
	return s.query(ctx, `SELECT seq, ts, etype, rid, payload FROM graph_events WHERE rid = ? ORDER BY seq`, rid)
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("eventstore: count: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.GraphEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: query: %w", err)
	}
	defer rows.Close()

	var out []model.GraphEvent
	for rows.Next() {
		var (
			seq                int64
			ts, etype, rid, pl string
		)
		if err := rows.Scan(&seq, &ts, &etype, &rid, &pl); err != nil {
			return nil, fmt.Errorf("eventstore: scan: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("eventstore: seq %d: bad timestamp: %w", seq, err)
		}
		ev := model.GraphEvent{Seq: uint64(seq), Timestamp: t, Type: model.EventType(etype), RID: rid}
		if err := json.Unmarshal([]byte(pl), &ev.Payload); err != nil {
			return nil, fmt.Errorf("eventstore: seq %d: bad payload: %w", seq, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: rows: %w", err)
	}
	return out, nil
}
