package types

import "testing"

func TestBasePathStripsLineSuffix(t *testing.T) {
	cases := map[string]string{
		"src/a.txt":           "src/a.txt",
		"src/a.txt:10-20":     "src/a.txt",
		"src/b.go:5-5":        "src/b.go",
		"no/colon/here":       "no/colon/here",
	}
	for in, want := range cases {
		if got := BasePath(in); got != want {
			t.Errorf("BasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestManifestBasePathsDeduplicates(t *testing.T) {
	m := &Manifest{PrimaryFiles: []string{"src/a.txt:1-2", "src/a.txt:5-6", "src/b.txt"}}
	got := m.BasePaths()
	want := []string{"src/a.txt", "src/b.txt"}
	if len(got) != len(want) {
		t.Fatalf("BasePaths() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BasePaths()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNilManifestBasePaths(t *testing.T) {
	var m *Manifest
	if got := m.BasePaths(); got != nil {
		t.Errorf("nil manifest BasePaths() = %v, want nil", got)
	}
}

func TestWorkerSlotAvailable(t *testing.T) {
	cases := []struct {
		status WorkerStatus
		want   bool
	}{
		{WorkerStatusIdle, true},
		{WorkerStatusCompleted, true},
		{WorkerStatusFailed, true},
		{WorkerStatusStarting, false},
		{WorkerStatusRunning, false},
		{WorkerStatusTimeout, false},
	}
	for _, c := range cases {
		s := WorkerSlot{Status: c.status}
		if got := s.Available(); got != c.want {
			t.Errorf("WorkerSlot{Status: %s}.Available() = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestBaselineContains(t *testing.T) {
	b := NewBaseline([]string{"a.txt", "b.txt"})
	if !b.Contains("a.txt") {
		t.Error("expected baseline to contain a.txt")
	}
	if b.Contains("c.txt") {
		t.Error("expected baseline to not contain c.txt")
	}
}
