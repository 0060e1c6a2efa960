package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListParsesOpenAndInProgressOnly(t *testing.T) {
	script := writeScript(t, t.TempDir(), "bd", `
cat <<'EOF'
{"id":"X-1","title":"a","status":"open","priority":1}
{"id":"X-2","title":"b","status":"closed","priority":1}
{"id":"X-3","title":"c","status":"in_progress","priority":2}
EOF
`)
	c := New(script, 5*time.Second)
	records, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(records), records)
	}
	if records[0].ID != "X-1" || records[1].ID != "X-3" {
		t.Errorf("unexpected record order/ids: %+v", records)
	}
}

func TestReadyParsesIDList(t *testing.T) {
	script := writeScript(t, t.TempDir(), "bd", `echo '["X-1","X-3"]'`)
	c := New(script, 5*time.Second)
	ready, err := c.Ready([]string{"X-1", "X-2", "X-3"})
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if _, ok := ready["X-1"]; !ok {
		t.Error("expected X-1 ready")
	}
	if _, ok := ready["X-2"]; ok {
		t.Error("expected X-2 not ready")
	}
}

func TestReadyPropagatesErrorForFailOpen(t *testing.T) {
	script := writeScript(t, t.TempDir(), "bd", `exit 1`)
	c := New(script, 5*time.Second)
	if _, err := c.Ready([]string{"X-1"}); err == nil {
		t.Fatal("expected error from a failing tracker binary")
	}
}

func TestCreateReturnsTrimmedID(t *testing.T) {
	script := writeScript(t, t.TempDir(), "bd", `echo "  X-9  "`)
	c := New(script, 5*time.Second)
	id, err := c.Create(context.Background(), "title", "body", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "X-9" {
		t.Errorf("Create id = %q, want X-9", id)
	}
}
