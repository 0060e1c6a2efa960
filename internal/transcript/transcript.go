// Package transcript implements the §6 transcript store collaborator: an
// append-only session/event log used for debugging. Not required for
// correctness of the core — callers should treat write failures here as
// non-fatal.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one append-only record in a session's event log.
type Event struct {
	Seq       int       `json:"seq"`
	Type      string    `json:"event_type"`
	ToolName  string    `json:"tool_name,omitempty"`
	Content   string    `json:"content,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type sessionMeta struct {
	ID        string     `json:"id"`
	IssueID   string     `json:"issue_id"`
	WorkerID  int        `json:"worker_id"`
	Resuming  bool       `json:"resuming"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// Store is a directory of append-only per-session JSONL event logs.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// StartSession begins a new session and returns its id. The session's
// metadata is written as the first line of its event file.
func (s *Store) StartSession(issueID string, workerID int, resuming bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	meta := sessionMeta{ID: id, IssueID: issueID, WorkerID: workerID, Resuming: resuming, StartedAt: time.Now()}
	if err := s.appendLocked(id, meta); err != nil {
		return "", err
	}
	return id, nil
}

// RecordEvent appends one event to session id's log. Safe to call
// concurrently with itself and with other sessions' calls.
func (s *Store) RecordEvent(sessionID string, seq int, eventType, toolName, content, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := Event{Seq: seq, Type: eventType, ToolName: toolName, Content: content, Raw: raw, Timestamp: time.Now()}
	return s.appendLocked(sessionID, ev)
}

// EndSession appends the session's terminal record.
func (s *Store) EndSession(sessionID string, exitCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	return s.appendLocked(sessionID, sessionMeta{ID: sessionID, EndedAt: &now, ExitCode: &exitCode})
}

func (s *Store) appendLocked(sessionID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.sessionPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write session event: %w", err)
	}
	return f.Sync()
}

// ReadEvents returns every raw JSONL line recorded for a session, in
// append order, for debugging tools.
func (s *Store) ReadEvents(sessionID string) ([]string, error) {
	f, err := os.Open(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
