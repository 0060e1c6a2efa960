package workerpool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/femtomc/noface/internal/config"
	"github.com/femtomc/noface/internal/store"
	"github.com/femtomc/noface/internal/transcript"
	"github.com/femtomc/noface/internal/types"
	"github.com/femtomc/noface/internal/vcs"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
	}
	run("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

// writeScript writes an executable shell script that ignores its argv
// (the §6 agent CLI flags) and just runs body, for standing in as a
// fake implementer or reviewer binary.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestPool(t *testing.T, agents config.AgentsConfig) (*Pool, *store.Store, *vcs.Adapter) {
	t.Helper()
	repo := initRepo(t)
	adapter, err := vcs.New(context.Background(), repo, "proj", 10*time.Second)
	if err != nil {
		t.Fatalf("vcs.New: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	tr, err := transcript.New(t.TempDir())
	if err != nil {
		t.Fatalf("transcript.New: %v", err)
	}
	pool := New(st, adapter, tr, agents, zerolog.Nop())
	return pool, st, adapter
}

func TestDispatchApprovedAttemptIsCompliant(t *testing.T) {
	scripts := t.TempDir()
	impl := writeScript(t, scripts, "impl.sh", `echo ok > feature.txt
echo READY_FOR_REVIEW`)
	rev := writeScript(t, scripts, "rev.sh", `echo APPROVED`)

	agents := config.AgentsConfig{Implementer: impl, Reviewer: rev, TimeoutSeconds: 5, NumWorkers: 1}
	pool, st, _ := newTestPool(t, agents)

	issue := types.Issue{
		ID:      "X-1",
		Status:  types.IssueStatusPending,
		Content: types.IssueContent{Title: "add feature"},
		Manifest: &types.Manifest{
			PrimaryFiles: []string{"feature.txt"},
		},
	}
	if err := st.PutIssue(issue); err != nil {
		t.Fatalf("PutIssue: %v", err)
	}

	if _, err := pool.Dispatch(context.Background(), issue); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case result := <-pool.CollectCompleted():
		if !result.Success {
			t.Errorf("result.Success = false, notes: %s", result.Notes)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	issue, ok, err := st.GetIssue("X-1")
	if err != nil || !ok {
		t.Fatalf("GetIssue: ok=%v err=%v", ok, err)
	}
	if issue.Status != types.IssueStatusCompleted {
		t.Errorf("issue.Status = %s, want completed", issue.Status)
	}
	if issue.AttemptCount != 1 {
		t.Errorf("issue.AttemptCount = %d, want 1", issue.AttemptCount)
	}
}

func TestDispatchUnauthorizedWriteFailsCompliance(t *testing.T) {
	scripts := t.TempDir()
	impl := writeScript(t, scripts, "impl.sh", `echo ok > unrelated.txt
echo READY_FOR_REVIEW`)
	rev := writeScript(t, scripts, "rev.sh", `echo APPROVED`)

	agents := config.AgentsConfig{Implementer: impl, Reviewer: rev, TimeoutSeconds: 5, NumWorkers: 1}
	pool, st, _ := newTestPool(t, agents)

	issue := types.Issue{
		ID:      "X-2",
		Status:  types.IssueStatusPending,
		Content: types.IssueContent{Title: "add feature"},
		Manifest: &types.Manifest{
			PrimaryFiles: []string{"feature.txt"},
		},
	}
	if err := st.PutIssue(issue); err != nil {
		t.Fatalf("PutIssue: %v", err)
	}

	if _, err := pool.Dispatch(context.Background(), issue); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case result := <-pool.CollectCompleted():
		if result.Success {
			t.Errorf("expected compliance failure, got success")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	issue, ok, err := st.GetIssue("X-2")
	if err != nil || !ok {
		t.Fatalf("GetIssue: ok=%v err=%v", ok, err)
	}
	if issue.Status != types.IssueStatusFailed {
		t.Errorf("issue.Status = %s, want failed", issue.Status)
	}
}

func TestDispatchNoFreeSlotReturnsNoWorkers(t *testing.T) {
	scripts := t.TempDir()
	impl := writeScript(t, scripts, "impl.sh", `sleep 5
echo READY_FOR_REVIEW`)
	rev := writeScript(t, scripts, "rev.sh", `echo APPROVED`)

	agents := config.AgentsConfig{Implementer: impl, Reviewer: rev, TimeoutSeconds: 30, NumWorkers: 1}
	pool, st, _ := newTestPool(t, agents)

	first := types.Issue{ID: "X-3", Status: types.IssueStatusPending, Content: types.IssueContent{Title: "t"}}
	second := types.Issue{ID: "X-4", Status: types.IssueStatusPending, Content: types.IssueContent{Title: "t"}}
	_ = st.PutIssue(first)
	_ = st.PutIssue(second)

	if _, err := pool.Dispatch(context.Background(), first); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if _, err := pool.Dispatch(context.Background(), second); err == nil {
		t.Fatal("expected no_workers error on second Dispatch, got nil")
	}

	pool.InterruptAll()
}

func TestDryRunSkipsWorkspaceAndMerge(t *testing.T) {
	scripts := t.TempDir()
	impl := writeScript(t, scripts, "impl.sh", `echo ok > feature.txt
echo READY_FOR_REVIEW`)
	rev := writeScript(t, scripts, "rev.sh", `echo APPROVED`)

	agents := config.AgentsConfig{Implementer: impl, Reviewer: rev, TimeoutSeconds: 5, NumWorkers: 1}
	pool, st, _ := newTestPool(t, agents)
	pool.SetDryRun(true)

	issue := types.Issue{
		ID:      "X-6",
		Status:  types.IssueStatusPending,
		Content: types.IssueContent{Title: "add feature"},
		Manifest: &types.Manifest{
			PrimaryFiles: []string{"feature.txt"},
		},
	}
	if err := st.PutIssue(issue); err != nil {
		t.Fatalf("PutIssue: %v", err)
	}

	if _, err := pool.Dispatch(context.Background(), issue); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case result := <-pool.CollectCompleted():
		if !result.Success {
			t.Errorf("result.Success = false, notes: %s", result.Notes)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestAgentTimeoutProducesFailedResult(t *testing.T) {
	scripts := t.TempDir()
	impl := writeScript(t, scripts, "impl.sh", `sleep 2`)
	rev := writeScript(t, scripts, "rev.sh", `echo APPROVED`)

	agents := config.AgentsConfig{Implementer: impl, Reviewer: rev, TimeoutSeconds: 1, NumWorkers: 1}
	pool, st, _ := newTestPool(t, agents)

	issue := types.Issue{ID: "X-5", Status: types.IssueStatusPending, Content: types.IssueContent{Title: "t"}}
	_ = st.PutIssue(issue)

	if _, err := pool.Dispatch(context.Background(), issue); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case result := <-pool.CollectCompleted():
		if result.Success {
			t.Errorf("expected timeout failure, got success")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}
