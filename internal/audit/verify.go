package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// maxLineBytes bounds a single entry; tool output is never stored inline.
const maxLineBytes = 1 << 20

// VerifyResult is the outcome of a chain check.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// lineError pins a scan failure to a line number.
type lineError struct {
	line int
	msg  string
}

func (e *lineError) Error() string { return fmt.Sprintf("line %d: %s", e.line, e.msg) }

// scan streams entries; fn receives each decoded entry with its raw bytes.
// Malformed lines are reported to fn via a nil entry when lenient is true and
// abort the scan otherwise.
func scan(path string, lenient bool, fn func(n int, raw []byte, e *Entry) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		raw := append([]byte(nil), sc.Bytes()...)
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			if !lenient {
				return n, &lineError{line: n, msg: fmt.Sprintf("parse error: %v", err)}
			}
			if err := fn(n, raw, nil); err != nil {
				return n, err
			}
			continue
		}
		if err := fn(n, raw, &e); err != nil {
			return n, err
		}
	}
	if err := sc.Err(); err != nil {
		return n, err
	}
	return n, nil
}

// Verify checks that every entry references the hash of the line before it
// and the first one references GenesisHash.
func Verify(path string) VerifyResult {
	expected := GenesisHash
	lines, err := scan(path, false, func(n int, raw []byte, e *Entry) error {
		if e.PrevHash != expected {
			if n == 1 {
				return &lineError{line: 1, msg: fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", e.PrevHash)}
			}
			return &lineError{line: n, msg: fmt.Sprintf("hash mismatch: expected %s, got %s", expected, e.PrevHash)}
		}
		expected = HashLine(raw)
		return nil
	})
	if err != nil {
		if le, ok := err.(*lineError); ok {
			return VerifyResult{Error: le.msg, ErrorLine: le.line}
		}
		return VerifyResult{Error: err.Error()}
	}
	return VerifyResult{Valid: true, Lines: lines}
}
