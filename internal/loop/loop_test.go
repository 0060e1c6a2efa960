package loop

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/femtomc/noface/internal/config"
	"github.com/femtomc/noface/internal/store"
	"github.com/femtomc/noface/internal/transcript"
	"github.com/femtomc/noface/internal/types"
	"github.com/femtomc/noface/internal/vcs"
	"github.com/femtomc/noface/internal/workerpool"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

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

func TestRecoverResetsCrashedSlots(t *testing.T) {
	repo := initRepo(t)
	adapter, err := vcs.New(context.Background(), repo, "proj", 5*time.Second)
	if err != nil {
		t.Fatalf("vcs.New: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	issueID := "X-9"
	if err := st.PutIssue(types.Issue{ID: issueID, Status: types.IssueStatusRunning}); err != nil {
		t.Fatalf("PutIssue: %v", err)
	}
	if err := st.MutateWorkerSlot(0, func(s *types.WorkerSlot) {
		s.Status = types.WorkerStatusRunning
		s.CurrentIssueID = &issueID
	}); err != nil {
		t.Fatalf("MutateWorkerSlot: %v", err)
	}

	l := New(st, adapter, nil, nil, config.Default(), zerolog.Nop())
	if err := l.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	arr, err := st.WorkerArray()
	if err != nil {
		t.Fatalf("WorkerArray: %v", err)
	}
	if arr[0].Status != types.WorkerStatusIdle {
		t.Errorf("slot 0 status = %s, want idle", arr[0].Status)
	}

	issue, _, err := st.GetIssue(issueID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Status != types.IssueStatusPending {
		t.Errorf("issue status = %s, want pending", issue.Status)
	}
}

func TestPauseResumeStepTransitions(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	pool := workerpool.New(st, nil, nil, config.Default().Agents, zerolog.Nop())

	l := New(st, nil, pool, nil, config.Default(), zerolog.Nop())

	if err := l.Resume(); err == nil {
		t.Error("expected error resuming a non-paused loop")
	}
	if err := l.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := l.Pause(); err == nil {
		t.Error("expected error pausing an already-paused loop")
	}
	if err := l.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !l.consumeStep() {
		t.Error("expected a pending step request")
	}
	if err := l.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if l.State() != RunStateRunning {
		t.Errorf("State() = %s, want running", l.State())
	}
}

func TestRunPeriodicPassesFireOncePerIteration(t *testing.T) {
	repo := initRepo(t)
	adapter, err := vcs.New(context.Background(), repo, "proj", 5*time.Second)
	if err != nil {
		t.Fatalf("vcs.New: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	counter := filepath.Join(t.TempDir(), "planner_runs")
	script := filepath.Join(t.TempDir(), "planner.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho ran >> "+counter+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Passes.PlannerBinary = script
	cfg.Passes.PlannerInterval = 1
	cfg.Passes.QualityEnabled = false

	l := New(st, adapter, nil, nil, cfg, zerolog.Nop())
	l.runPlannerIntervalPass(context.Background(), 1)
	l.runPlannerIntervalPass(context.Background(), 1) // replay of the same iteration must not re-fire
	l.runPlannerIntervalPass(context.Background(), 2)

	data, err := os.ReadFile(counter)
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if got := strings.Count(string(data), "ran"); got != 2 {
		t.Errorf("planner ran %d times, want 2 (iterations 1 and 2, replay suppressed)", got)
	}
}

func TestDispatchStepRunsPendingBatchBeforeSingleIssue(t *testing.T) {
	repo := initRepo(t)
	adapter, err := vcs.New(context.Background(), repo, "proj", 5*time.Second)
	if err != nil {
		t.Fatalf("vcs.New: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	scripts := t.TempDir()
	impl := writeScript(t, scripts, "impl.sh", "echo ok > feature.txt\necho READY_FOR_REVIEW")
	rev := writeScript(t, scripts, "rev.sh", "echo APPROVED")

	agents := config.AgentsConfig{Implementer: impl, Reviewer: rev, TimeoutSeconds: 5, NumWorkers: 2}
	tr, err := transcript.New(t.TempDir())
	if err != nil {
		t.Fatalf("transcript.New: %v", err)
	}
	pool := workerpool.New(st, adapter, tr, agents, zerolog.Nop())

	for _, id := range []string{"B-1", "B-2"} {
		if err := st.PutIssue(types.Issue{ID: id, Status: types.IssueStatusPending, Content: types.IssueContent{Title: "batched"}}); err != nil {
			t.Fatalf("PutIssue(%s): %v", id, err)
		}
	}
	if err := st.PutIssue(types.Issue{ID: "S-1", Status: types.IssueStatusPending, Content: types.IssueContent{Title: "solo"}}); err != nil {
		t.Fatalf("PutIssue(S-1): %v", err)
	}

	batch := types.Batch{ID: "batch-1", IssueIDs: []string{"B-1", "B-2"}, Status: types.BatchStatusPending}
	if err := st.PutBatch(batch); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if err := st.SetPendingBatchIDs([]string{"batch-1"}); err != nil {
		t.Fatalf("SetPendingBatchIDs: %v", err)
	}

	l := New(st, adapter, pool, nil, config.Default(), zerolog.Nop())

	dispatched, err := l.dispatchStep(context.Background())
	if err != nil {
		t.Fatalf("dispatchStep: %v", err)
	}
	if !dispatched {
		t.Error("dispatchStep reported no dispatch, want the pending batch to run")
	}

	for _, id := range []string{"B-1", "B-2"} {
		issue, ok, err := st.GetIssue(id)
		if err != nil || !ok {
			t.Fatalf("GetIssue(%s): ok=%v err=%v", id, ok, err)
		}
		if issue.Status != types.IssueStatusCompleted {
			t.Errorf("issue %s status = %s, want completed", id, issue.Status)
		}
	}

	solo, ok, err := st.GetIssue("S-1")
	if err != nil || !ok {
		t.Fatalf("GetIssue(S-1): ok=%v err=%v", ok, err)
	}
	if solo.Status != types.IssueStatusPending {
		t.Errorf("solo issue status = %s, want still pending (batch takes priority over single dispatch)", solo.Status)
	}

	ids, err := st.PendingBatchIDs()
	if err != nil {
		t.Fatalf("PendingBatchIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("PendingBatchIDs = %v, want empty after dispatch", ids)
	}

	gotBatch, ok, err := st.GetBatch("batch-1")
	if err != nil || !ok {
		t.Fatalf("GetBatch: ok=%v err=%v", ok, err)
	}
	if gotBatch.Status != types.BatchStatusCompleted {
		t.Errorf("batch status = %s, want completed", gotBatch.Status)
	}
}

func TestDispatchStepRunsEventDrivenPlannerInsteadOfSingleIssue(t *testing.T) {
	repo := initRepo(t)
	adapter, err := vcs.New(context.Background(), repo, "proj", 5*time.Second)
	if err != nil {
		t.Fatalf("vcs.New: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	if err := st.PutIssue(types.Issue{ID: "S-2", Status: types.IssueStatusPending, Content: types.IssueContent{Title: "solo"}}); err != nil {
		t.Fatalf("PutIssue: %v", err)
	}

	counter := filepath.Join(t.TempDir(), "planner_runs")
	script := writeScript(t, t.TempDir(), "planner.sh", "echo ran >> "+counter)

	cfg := config.Default()
	cfg.Passes.PlannerMode = "event_driven"
	cfg.Passes.PlannerBinary = script

	l := New(st, adapter, nil, nil, cfg, zerolog.Nop())
	dispatched, err := l.dispatchStep(context.Background())
	if err != nil {
		t.Fatalf("dispatchStep: %v", err)
	}
	if dispatched {
		t.Error("dispatchStep reported a dispatch, want false (event-driven planner substitutes for dispatch)")
	}

	data, err := os.ReadFile(counter)
	if err != nil {
		t.Fatalf("planner script did not run: %v", err)
	}
	if !strings.Contains(string(data), "ran") {
		t.Error("planner script ran but left no trace")
	}

	solo, ok, err := st.GetIssue("S-2")
	if err != nil || !ok {
		t.Fatalf("GetIssue(S-2): ok=%v err=%v", ok, err)
	}
	if solo.Status != types.IssueStatusPending {
		t.Errorf("solo issue status = %s, want still pending (event-driven planner ran instead of dispatch)", solo.Status)
	}
}
