package transcript

import (
	"testing"
)

func TestStartRecordEndRoundTrips(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, err := s.StartSession("X-1", 0, false)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty session id")
	}

	if err := s.RecordEvent(id, 1, "tool_call", "bash", "ls", ""); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.EndSession(id, 0); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	lines, err := s.ReadEvents(id)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("ReadEvents() = %d lines, want 3 (start, event, end)", len(lines))
	}
}

func TestReadEventsMissingSessionReturnsNil(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lines, err := s.ReadEvents("does-not-exist")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if lines != nil {
		t.Errorf("expected nil, got %v", lines)
	}
}
