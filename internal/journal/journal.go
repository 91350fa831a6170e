package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event is one state transition of a transaction flow.
type Event struct {
	Time    time.Time `json:"ts"`
	Flow    string    `json:"flow"`
	Account string    `json:"account,omitempty"`
	State   string    `json:"state"`
	Epoch   uint64    `json:"epoch"`
	Tx      string    `json:"tx,omitempty"`
	Amount  string    `json:"amount,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Error   string    `json:"error,omitempty"`
	// TokenDelta is the account's token movement read from the action
	// receipt, in whole tokens.
	TokenDelta string `json:"token_delta,omitempty"`
}

// Journal appends flow events to a JSONL file. It is write-only; nothing in
// the client reads it back.
//
// Each event is written with a single append. Events that carry an outcome
// end a flow and are synced to disk before Record returns; transitions are
// left to the OS.
//
// It is safe for concurrent use, and a nil *Journal discards everything.
type Journal struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	now      func() time.Time
	syncFile func(*os.File) error
}

// Open returns a journal appending to path. A blank path returns nil. The
// file is created lazily on the first event.
func Open(path string) *Journal {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Journal{path: path, now: time.Now, syncFile: (*os.File).Sync}
}

func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

func (j *Journal) fileLocked() (*os.File, error) {
	if j.file == nil {
		if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
		f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		j.file = f
	}
	return j.file, nil
}

// Record appends ev. A zero Time is stamped with the current UTC time.
func (j *Journal) Record(ev Event) error {
	if j == nil {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = j.now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode journal event: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := j.fileLocked()
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	if ev.Outcome != "" {
		if err := j.syncFile(f); err != nil {
			return fmt.Errorf("sync journal: %w", err)
		}
	}
	return nil
}

// Close releases the file. The journal reopens it if recorded to again.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
