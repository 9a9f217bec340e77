package audit

import (
	"fmt"
	"time"
)

// Filter selects entries for replay. Zero fields match everything.
type Filter struct {
	RID  string
	Kind string
	From time.Time
	To   time.Time
}

func (f Filter) match(e Entry) bool {
	if f.RID != "" && e.RID != f.RID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// Summary counts what a replay matched.
type Summary struct {
	Total          int            `json:"total"`
	Grants         int            `json:"grants"`
	Denies         int            `json:"denies"`
	Events         int            `json:"events"`
	Violations     map[string]int `json:"violations,omitempty"`
	FirstTimestamp string         `json:"first_timestamp,omitempty"`
	LastTimestamp  string         `json:"last_timestamp,omitempty"`
}

func (s *Summary) add(e Entry) {
	s.Total++
	switch {
	case e.Kind == KindEvent:
		s.Events++
	case e.Decision == Grant:
		s.Grants++
	case e.Decision == Deny:
		s.Denies++
		if e.Violation != "" {
			if s.Violations == nil {
				s.Violations = make(map[string]int)
			}
			s.Violations[e.Violation]++
		}
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}

// ReplayResult holds matching entries in file order.
type ReplayResult struct {
	RID     string  `json:"rid,omitempty"`
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Replay reads the log and returns the entries matching filter.
// Malformed lines are skipped.
func Replay(path string, filter Filter) (*ReplayResult, error) {
	res := &ReplayResult{RID: filter.RID, Entries: []Entry{}}
	_, err := scan(path, true, func(_ int, _ []byte, e *Entry) error {
		if e == nil || !filter.match(*e) {
			return nil
		}
		res.Entries = append(res.Entries, *e)
		res.Summary.add(*e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: replay: %w", err)
	}
	return res, nil
}

// Tail returns the last n entries matching filter.
func Tail(path string, n int, filter Filter) ([]Entry, error) {
	res, err := Replay(path, filter)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(res.Entries) > n {
		return res.Entries[len(res.Entries)-n:], nil
	}
	return res.Entries, nil
}
