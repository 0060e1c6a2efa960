// Package workerpool implements C6, the Worker Pool: dispatches issues
// onto the fixed worker slot array, runs each issue's implement/review
// pipeline in an isolated workspace, applies the compliance check to the
// result and records the outcome in the State Store.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/femtomc/noface/internal/compliance"
	"github.com/femtomc/noface/internal/config"
	"github.com/femtomc/noface/internal/errs"
	"github.com/femtomc/noface/internal/procrunner"
	"github.com/femtomc/noface/internal/prompt"
	"github.com/femtomc/noface/internal/store"
	"github.com/femtomc/noface/internal/transcript"
	"github.com/femtomc/noface/internal/types"
	"github.com/femtomc/noface/internal/vcs"
)

// MaxReviewIterations bounds the implement/review loop per issue (§4.6).
const MaxReviewIterations = 5

// Sentinels §6 requires agent children to emit on stdout, matched by
// substring, one per line.
const (
	sentinelReadyForReview   = "READY_FOR_REVIEW"
	sentinelBlocked          = "BLOCKED:"
	sentinelApproved         = "APPROVED"
	sentinelChangesRequested = "CHANGES_REQUESTED:"
	sentinelResolved         = "RESOLVED"
	sentinelUnresolved       = "UNRESOLVED:"
)

// WorkerResult is the outcome of one dispatched issue. The pool records
// it in the State Store when the task finishes, then queues it for the
// Main Loop to collect (§4.6).
type WorkerResult struct {
	IssueID         string
	WorkerID        int
	Success         bool
	ExitCode        int
	DurationMS      int64
	Baseline        types.Baseline
	Notes           string
	Instrumentation *types.Instrumentation
}

// Pool implements C6 against a State Store, VCS Adapter and transcript
// collaborator shared with the rest of the core.
type Pool struct {
	st         *store.Store
	vcsAdapter *vcs.Adapter
	transcript *transcript.Store
	agents     config.AgentsConfig
	log        zerolog.Logger

	mu      sync.Mutex
	active  map[int]context.CancelFunc
	results chan WorkerResult

	dryRun bool
}

// SetDryRun toggles dry-run mode: workspace creation is skipped in favour
// of a scratch stub directory, and the merge/compliance step is skipped
// since a stub workspace never has real changes to commit (§4.6).
func (p *Pool) SetDryRun(v bool) { p.dryRun = v }

// New returns a Pool ready to dispatch onto the given slot count.
func New(st *store.Store, vcsAdapter *vcs.Adapter, tr *transcript.Store, agents config.AgentsConfig, log zerolog.Logger) *Pool {
	return &Pool{
		st:         st,
		vcsAdapter: vcsAdapter,
		transcript: tr,
		agents:     agents,
		log:        log,
		active:     make(map[int]context.CancelFunc),
		results:    make(chan WorkerResult, types.MaxWorkers),
	}
}

// Dispatch assigns issueID to the lowest-numbered free slot and starts
// its pipeline in a new goroutine. Returns the slot id chosen.
func (p *Pool) Dispatch(ctx context.Context, issue types.Issue) (int, error) {
	arr, err := p.st.WorkerArray()
	if err != nil {
		return 0, err
	}

	slot := -1
	for i := 0; i < p.agents.NumWorkers && i < types.MaxWorkers; i++ {
		if arr[i].Available() {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, errs.New(errs.KindNoWorkers, fmt.Errorf("no free worker slot among %d", p.agents.NumWorkers))
	}

	now := time.Now()
	if err := p.st.MutateWorkerSlot(slot, func(s *types.WorkerSlot) {
		s.Status = types.WorkerStatusStarting
		id := issue.ID
		s.CurrentIssueID = &id
		s.StartedAt = &now
	}); err != nil {
		return 0, err
	}

	issue.Status = types.IssueStatusAssigned
	wid := slot
	issue.AssignedWorkerID = &wid
	if err := p.st.PutIssue(issue); err != nil {
		return 0, err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.active[slot] = cancel
	p.mu.Unlock()

	go p.run(taskCtx, slot, issue)

	return slot, nil
}

// batchPollInterval bounds how long ExecuteBatch sleeps between capacity
// checks when every worker slot is busy.
const batchPollInterval = 200 * time.Millisecond

// ExecuteBatch dispatches every still-pending issue in batch, waiting for
// worker capacity to free up as needed, and blocks until each has reached
// a terminal status before marking the batch completed (§4.7 step 3:
// "hand it to the pool's bulk execute_batch (blocking until done)").
// Results for issues outside this batch (in flight from an earlier tick)
// are drained and logged the same as the Main Loop would, but don't count
// toward this batch's completion.
func (p *Pool) ExecuteBatch(ctx context.Context, batch types.Batch) error {
	now := time.Now()
	batch.Status = types.BatchStatusRunning
	batch.StartedAt = &now
	if err := p.st.PutBatch(batch); err != nil {
		return err
	}

	pending := make(map[string]struct{}, len(batch.IssueIDs))
	for _, id := range batch.IssueIDs {
		pending[id] = struct{}{}
	}

	for len(pending) > 0 {
		for id := range pending {
			issue, ok, err := p.st.GetIssue(id)
			if err != nil {
				return err
			}
			if !ok {
				delete(pending, id)
				continue
			}
			if issue.Status == types.IssueStatusCompleted || issue.Status == types.IssueStatusFailed {
				delete(pending, id)
				continue
			}
			if issue.Status != types.IssueStatusPending {
				continue // already assigned/running from a prior dispatch
			}
			if _, err := p.Dispatch(ctx, issue); err != nil {
				if kind, isCore := errs.KindOf(err); !isCore || kind != errs.KindNoWorkers {
					return err
				}
			}
		}
		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case result := <-p.results:
			p.log.Info().Str("issue_id", result.IssueID).Bool("success", result.Success).Msg("worker task finished")
			delete(pending, result.IssueID)
		case <-time.After(batchPollInterval):
		}
	}

	completed := time.Now()
	batch.Status = types.BatchStatusCompleted
	batch.CompletedAt = &completed
	return p.st.PutBatch(batch)
}

// CollectCompleted returns the channel onto which finished results are
// pushed, for the Main Loop to drain.
func (p *Pool) CollectCompleted() <-chan WorkerResult {
	return p.results
}

// InterruptAll cancels every in-flight task without waiting for
// sentinels, for use by the interrupt command (pause does not call it).
func (p *Pool) InterruptAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.active {
		cancel()
	}
}

func (p *Pool) clearActive(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, slot)
}

// run executes the full per-task pipeline for one dispatched issue:
// workspace creation, implement/review loop, merge, compliance check,
// and result recording. Every exit path tears down the workspace.
func (p *Pool) run(ctx context.Context, slot int, issue types.Issue) {
	start := time.Now()
	log := p.log.With().Str("issue_id", issue.ID).Int("worker_id", slot).Logger()

	_ = p.st.MutateWorkerSlot(slot, func(s *types.WorkerSlot) {
		s.Status = types.WorkerStatusRunning
	})

	workspace, cleanup, err := p.acquireWorkspace(ctx, slot)
	if err != nil {
		log.Error().Err(err).Msg("workspace creation failed")
		p.finish(slot, issue, WorkerResult{
			IssueID: issue.ID, WorkerID: slot, Success: false,
			DurationMS: time.Since(start).Milliseconds(),
			Notes:      fmt.Sprintf("workspace creation failed: %v", err),
		}, types.AttemptResultFailed)
		return
	}
	defer cleanup()

	baseline := types.NewBaseline(nil)
	if !p.dryRun {
		if baselineFiles, err := p.vcsAdapter.GetAllChangedFiles(ctx); err == nil {
			baseline = types.NewBaseline(baselineFiles.All())
		}
	}

	sessionID, _ := p.transcript.StartSession(issue.ID, slot, issue.AttemptCount > 0)

	result, attemptResult := p.pipeline(ctx, log, slot, issue, workspace, sessionID, baseline)
	result.DurationMS = time.Since(start).Milliseconds()
	result.Baseline = baseline

	_ = p.transcript.EndSession(sessionID, result.ExitCode)

	p.finish(slot, issue, result, attemptResult)
}

// acquireWorkspace returns a real VCS worktree, or in dry-run mode a
// scratch stub directory substituting for one (§4.6). cleanup tears
// down whichever was created.
func (p *Pool) acquireWorkspace(ctx context.Context, slot int) (workspace string, cleanup func(), err error) {
	if p.dryRun {
		stub, err := os.MkdirTemp("", fmt.Sprintf("noface-dryrun-worker-%d-", slot))
		if err != nil {
			return "", func() {}, err
		}
		return stub, func() { _ = os.RemoveAll(stub) }, nil
	}

	workspace, err = p.vcsAdapter.CreateWorkspace(ctx, slot)
	if err != nil {
		return "", func() {}, err
	}
	return workspace, func() {
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = p.vcsAdapter.RemoveWorkspace(rctx, workspace)
	}, nil
}

// pipeline runs the bounded implement/review loop and, on approval,
// commits and squash-merges the workspace. Returns the worker result and
// the attempt-record classification to persist.
func (p *Pool) pipeline(ctx context.Context, log zerolog.Logger, slot int, issue types.Issue, workspace, sessionID string, baseline types.Baseline) (WorkerResult, types.AttemptResult) {
	feedback := ""

	for iteration := 0; iteration < MaxReviewIterations; iteration++ {
		extras := map[string]string{}
		if feedback != "" {
			extras["feedback"] = feedback
		}
		implPrompt := prompt.Build(prompt.RoleImplementer, issue.ID, issue.Content.Title, extras)

		implOutcome, implErr := p.runAgent(ctx, p.agents.Implementer, implPrompt, workspace, issue.ID, sessionID,
			sentinelReadyForReview, sentinelBlocked)
		if implErr != nil {
			return p.agentFailure(slot, issue, implErr)
		}
		if implOutcome.matchedSentinel == sentinelBlocked {
			return WorkerResult{IssueID: issue.ID, WorkerID: slot, Success: false, ExitCode: implOutcome.exitCode,
				Notes: "implementer reported blocked: " + implOutcome.detail}, types.AttemptResultFailed
		}

		reviewPrompt := prompt.Build(prompt.RoleReviewer, issue.ID, issue.Content.Title, nil)
		reviewOutcome, reviewErr := p.runAgent(ctx, p.agents.Reviewer, reviewPrompt, workspace, issue.ID, sessionID,
			sentinelApproved, sentinelChangesRequested)
		if reviewErr != nil {
			return p.agentFailure(slot, issue, reviewErr)
		}

		if reviewOutcome.matchedSentinel == sentinelApproved {
			return p.mergeAndCheck(ctx, slot, issue, workspace, sessionID, baseline)
		}

		feedback = reviewOutcome.detail
	}

	return WorkerResult{IssueID: issue.ID, WorkerID: slot, Success: false,
		Notes: fmt.Sprintf("exceeded %d review iterations without approval", MaxReviewIterations)}, types.AttemptResultFailed
}

func (p *Pool) agentFailure(slot int, issue types.Issue, err error) (WorkerResult, types.AttemptResult) {
	kind, _ := errs.KindOf(err)
	result := types.AttemptResultFailed
	if kind == errs.KindAgentTimeout {
		result = types.AttemptResultTimeout
	}
	return WorkerResult{IssueID: issue.ID, WorkerID: slot, Success: false, Notes: err.Error()}, result
}

func (p *Pool) mergeAndCheck(ctx context.Context, slot int, issue types.Issue, workspace, sessionID string, baseline types.Baseline) (WorkerResult, types.AttemptResult) {
	if p.dryRun {
		return WorkerResult{IssueID: issue.ID, WorkerID: slot, Success: true,
			Notes: "dry-run: approved, no workspace to merge"}, types.AttemptResultSuccess
	}

	if _, err := p.vcsAdapter.CommitInWorkspace(ctx, workspace, fmt.Sprintf("noface: %s", issue.ID)); err != nil {
		return WorkerResult{IssueID: issue.ID, WorkerID: slot, Success: false,
			Notes: fmt.Sprintf("commit failed: %v", err)}, types.AttemptResultFailed
	}

	merged, err := p.vcsAdapter.SquashFromWorkspace(ctx, workspace)
	if err != nil {
		return WorkerResult{IssueID: issue.ID, WorkerID: slot, Success: false,
			Notes: fmt.Sprintf("merge failed: %v", err)}, types.AttemptResultFailed
	}
	if !merged {
		merged = p.resolveMergeConflict(ctx, issue, workspace, sessionID)
	}
	if !merged {
		return WorkerResult{IssueID: issue.ID, WorkerID: slot, Success: false,
			Notes: "merge conflict, merge-resolver collaborator did not resolve"}, types.AttemptResultFailed
	}

	changed, err := p.vcsAdapter.GetAllChangedFiles(ctx)
	touched := []string{}
	if err == nil {
		touched = changed.All()
	}

	otherManifests := p.otherManifests(issue.ID)
	report := compliance.Check(issue.Manifest, touched, baseline, otherManifests)
	finalSuccess := report.Compliant

	result := types.AttemptResultSuccess
	if !finalSuccess {
		result = types.AttemptResultViolation
	}

	return WorkerResult{
		IssueID:         issue.ID,
		WorkerID:        slot,
		Success:         finalSuccess,
		Notes:           strings.Join(report.Violations(), ", "),
		Instrumentation: report.Instrumentation,
	}, result
}

// resolveMergeConflict invokes the optional Merge-Resolver collaborator
// (§6) when one is configured, then retries the squash. Returns false
// without spawning anything if AgentsConfig.MergeResolver is unset.
func (p *Pool) resolveMergeConflict(ctx context.Context, issue types.Issue, workspace, sessionID string) bool {
	if p.agents.MergeResolver == "" {
		return false
	}
	mergePrompt := prompt.Build(prompt.RoleMerge, issue.ID, issue.Content.Title, nil)
	outcome, err := p.runAgent(ctx, p.agents.MergeResolver, mergePrompt, workspace, issue.ID, sessionID,
		sentinelResolved, sentinelUnresolved)
	if err != nil || outcome.matchedSentinel != sentinelResolved {
		return false
	}
	resolved, err := p.vcsAdapter.SquashFromWorkspace(ctx, workspace)
	return err == nil && resolved
}

func (p *Pool) otherManifests(excludeIssueID string) []*types.Manifest {
	snap, err := p.st.Snapshot()
	if err != nil {
		return nil
	}
	var manifests []*types.Manifest
	for id, issue := range snap.Issues {
		if id == excludeIssueID || issue.Manifest == nil {
			continue
		}
		manifests = append(manifests, issue.Manifest)
	}
	return manifests
}

// agentOutcome describes why an agent's streaming loop ended.
type agentOutcome struct {
	matchedSentinel string
	detail          string
	exitCode        int
}

// runAgent spawns binary with prompt in workspace, injecting the §6
// workspace/issue environment, and reads lines until one of the given
// sentinels appears or the process exits.
func (p *Pool) runAgent(ctx context.Context, binary, promptText, workspace, issueID, sessionID string, sentinels ...string) (agentOutcome, error) {
	argv := buildAgentArgv(binary, promptText)
	env := agentEnv(workspace, issueID)
	timeout := time.Duration(p.agents.TimeoutSeconds) * time.Second

	runner, err := procrunner.Spawn(ctx, argv, workspace, env)
	if err != nil {
		return agentOutcome{}, errs.New(errs.KindAgentSpawnFailed, err)
	}

	seq := 0
	for {
		outcome, readErr := runner.ReadLine(timeout)
		if readErr != nil {
			_ = runner.Kill()
			return agentOutcome{}, errs.New(errs.KindAgentUnexpectedEOF, readErr)
		}
		if outcome.Timeout {
			_ = runner.Kill()
			return agentOutcome{}, errs.Newf(errs.KindAgentTimeout, "agent %s exceeded %s without output", binary, timeout)
		}
		if outcome.EOF {
			waitErr := runner.Wait()
			if waitErr != nil {
				return agentOutcome{}, errs.New(errs.KindAgentUnexpectedEOF, waitErr)
			}
			return agentOutcome{}, errs.Newf(errs.KindAgentUnexpectedEOF, "agent %s exited before emitting a sentinel", binary)
		}

		line := string(outcome.Line)
		seq++
		_ = p.transcript.RecordEvent(sessionID, seq, "stdout", binary, line, line)

		for _, s := range sentinels {
			if idx := strings.Index(line, s); idx >= 0 {
				_ = runner.Kill()
				return agentOutcome{matchedSentinel: s, detail: strings.TrimSpace(line[idx+len(s):])}, nil
			}
		}
	}
}

// finish records the final attempt, updates the issue and frees the
// worker slot, and publishes the result for the Main Loop to collect.
func (p *Pool) finish(slot int, issue types.Issue, result WorkerResult, attemptResult types.AttemptResult) {
	_ = p.st.MutateWorkerSlot(slot, func(s *types.WorkerSlot) {
		if result.Success {
			s.Status = types.WorkerStatusCompleted
		} else {
			s.Status = types.WorkerStatusFailed
		}
		s.CurrentIssueID = nil
	})

	issue.AttemptCount++
	issue.AssignedWorkerID = nil
	if result.Success {
		issue.Status = types.IssueStatusCompleted
	} else {
		issue.Status = types.IssueStatusFailed
	}

	issue.LastAttempt = &types.AttemptRecord{
		AttemptNumber:   issue.AttemptCount,
		WallclockTime:   time.Now(),
		Result:          attemptResult,
		FilesTouched:    nil,
		Notes:           result.Notes,
		Instrumentation: result.Instrumentation,
	}
	_ = p.st.PutIssue(issue)

	_ = p.st.MutateCounters(func(c *types.Counters) {
		c.TotalIterations++
		if result.Success {
			c.SuccessfulCompletions++
		} else {
			c.FailedAttempts++
		}
	})

	p.clearActive(slot)

	select {
	case p.results <- result:
	default:
		p.log.Warn().Str("issue_id", issue.ID).Msg("result queue full, dropping")
	}
}
