// Package loop implements C7, the Main Loop: the iteration driver that
// recovers crashed work at boot, repeatedly pulls ready issues from the
// Scheduler and hands them to the Worker Pool, runs periodic planner and
// quality passes on their configured cadence, and exposes pause/resume/
// step/interrupt control to the Command Surface.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/femtomc/noface/internal/config"
	"github.com/femtomc/noface/internal/errs"
	"github.com/femtomc/noface/internal/procrunner"
	"github.com/femtomc/noface/internal/prompt"
	"github.com/femtomc/noface/internal/scheduler"
	"github.com/femtomc/noface/internal/store"
	"github.com/femtomc/noface/internal/vcs"
	"github.com/femtomc/noface/internal/workerpool"
)

// RunState is the loop's externally visible run state (§6 status verb).
type RunState string

const (
	RunStateRunning RunState = "running"
	RunStatePaused  RunState = "paused"
	RunStateStopped RunState = "stopped"
)

// Loop drives C7 against a shared State Store, Scheduler Tracker, and
// Worker Pool.
type Loop struct {
	st         *store.Store
	vcsAdapter *vcs.Adapter
	pool       *workerpool.Pool
	tracker    scheduler.Tracker
	cfg        *config.Config
	log        zerolog.Logger

	mu              sync.Mutex
	state           RunState
	stepRequested   bool
	iteration       uint64
	lastPlannerIter uint64
	lastQualityIter uint64
	stopOnce        sync.Once

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Loop ready to Run. tracker may be nil, in which case the
// scheduler treats every pending issue as ready (§4.5 step 2).
func New(st *store.Store, vcsAdapter *vcs.Adapter, pool *workerpool.Pool, tracker scheduler.Tracker, cfg *config.Config, log zerolog.Logger) *Loop {
	return &Loop{
		st:         st,
		vcsAdapter: vcsAdapter,
		pool:       pool,
		tracker:    tracker,
		cfg:        cfg,
		log:        log,
		state:      RunStateRunning,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Recover runs the boot-time recovery sequence: crashed worker slots and
// their issues are reset (§3 invariant 6), then orphaned workspaces left
// behind by a prior, differently-PIDed process are cleaned up.
func (l *Loop) Recover(ctx context.Context) error {
	recovered, err := l.st.RecoverCrashedWork()
	if err != nil {
		return fmt.Errorf("recover crashed work: %w", err)
	}
	if recovered > 0 {
		l.log.Warn().Int("slots", recovered).Msg("recovered crashed worker slots at boot")
	}

	// RecoverCrashedWork above has already reset every starting/running
	// slot to idle, so no workspace is currently owned; every sibling
	// worker-workspace directory left on disk belongs to a dead process.
	removed, err := l.vcsAdapter.CleanupOrphanedWorkspaces(ctx, map[string]struct{}{})
	if err != nil {
		return fmt.Errorf("cleanup orphaned workspaces: %w", err)
	}
	if removed > 0 {
		l.log.Info().Int("workspaces", removed).Msg("removed orphaned workspaces at boot")
	}
	return nil
}

// Run blocks, driving iterations until the context is cancelled or Stop
// is called.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.doneCh)
	interval := time.Duration(config.LoopIntervalSeconds) * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return nil
		default:
		}

		if l.isPaused() && !l.consumeStep() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.stopCh:
				return nil
			case <-time.After(interval):
				continue
			}
		}

		dispatched, err := l.tick(ctx)
		if err != nil {
			l.log.Error().Err(err).Msg("loop iteration failed")
		}

		if max := l.cfg.Runtime.MaxIterations; max > 0 && l.Iteration() >= uint64(max) {
			l.log.Info().Int("max_iterations", max).Msg("reached configured iteration limit, stopping")
			return nil
		}

		if !dispatched {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.stopCh:
				return nil
			case <-time.After(interval):
			}
		}
	}
}

// tick runs exactly one §4.7 iteration: increment the counter, run the
// planner pass if its interval cadence is due, hand a pending batch to
// the pool or (failing that) dispatch a single ready issue or run an
// event-driven planner pass, then run the quality pass if due. Returns
// whether a new issue or batch was dispatched this tick.
func (l *Loop) tick(ctx context.Context) (bool, error) {
	l.drainCompleted()

	l.mu.Lock()
	l.iteration++
	iter := l.iteration
	l.mu.Unlock()

	l.runPlannerIntervalPass(ctx, iter)

	dispatched, err := l.dispatchStep(ctx)
	if err != nil {
		return dispatched, err
	}

	l.runQualityPass(ctx, iter)

	return dispatched, nil
}

// dispatchStep implements §4.7 step 3: a pending batch takes priority
// over single-issue dispatch; absent one, an event-driven planner pass
// substitutes for dispatch this tick; absent that, the scheduler's
// single ready issue is dispatched if the pool has capacity.
func (l *Loop) dispatchStep(ctx context.Context) (bool, error) {
	ids, err := l.st.PendingBatchIDs()
	if err != nil {
		return false, err
	}
	if len(ids) > 0 {
		batchID := ids[0]
		rest := append([]string(nil), ids[1:]...)
		batch, ok, err := l.st.GetBatch(batchID)
		if err != nil {
			return false, err
		}
		if !ok {
			l.log.Warn().Str("batch_id", batchID).Msg("pending batch id has no stored batch, dropping")
			if err := l.st.SetPendingBatchIDs(rest); err != nil {
				return false, err
			}
			return false, nil
		}
		if err := l.pool.ExecuteBatch(ctx, batch); err != nil {
			return false, err
		}
		if err := l.st.SetPendingBatchIDs(rest); err != nil {
			return false, err
		}
		return true, nil
	}

	if l.cfg.Passes.PlannerEnabled && l.cfg.Passes.PlannerMode == "event_driven" {
		l.runPass(ctx, prompt.RolePlanner, l.cfg.Passes.PlannerBinary, "planner")
		return false, nil
	}

	snap, err := l.st.Snapshot()
	if err != nil {
		return false, err
	}
	issue, ok, failedOpen := scheduler.NextReadyIssue(snap.Issues, l.tracker)
	if failedOpen {
		l.log.Debug().Msg("tracker dependency check failed, scheduling with fail-open semantics")
	}
	if !ok {
		return false, nil
	}

	if _, err := l.pool.Dispatch(ctx, *issue); err != nil {
		if kind, isCore := errs.KindOf(err); isCore && kind == errs.KindNoWorkers {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *Loop) drainCompleted() {
	for {
		select {
		case result := <-l.pool.CollectCompleted():
			l.log.Info().Str("issue_id", result.IssueID).Bool("success", result.Success).Msg("worker task finished")
		default:
			return
		}
	}
}

// runPlannerIntervalPass runs the planner collaborator when its interval
// cadence is due in "interval" mode (§4.7 step 2). In "event_driven" mode
// the planner instead runs from dispatchStep, reactively, when no pending
// batch exists, so this is a no-op there. A pass fires at most once per
// iteration multiple: lastPlannerIter remembers the last iteration it
// ran at, so a step/resume replay of the same iteration never re-fires
// it (§4.5).
func (l *Loop) runPlannerIntervalPass(ctx context.Context, iteration uint64) {
	if l.cfg.Passes.PlannerEnabled && l.cfg.Passes.PlannerMode == "interval" && l.cfg.Passes.PlannerInterval > 0 {
		if iteration%uint64(l.cfg.Passes.PlannerInterval) == 0 && iteration != l.lastPlannerIter {
			l.lastPlannerIter = iteration
			l.runPass(ctx, prompt.RolePlanner, l.cfg.Passes.PlannerBinary, "planner")
		}
	}
}

// runQualityPass runs the quality collaborator when its interval cadence
// is due (§4.7 step 4), with the same once-per-iteration-multiple
// suppression as runPlannerIntervalPass.
func (l *Loop) runQualityPass(ctx context.Context, iteration uint64) {
	if l.cfg.Passes.QualityEnabled && l.cfg.Passes.QualityInterval > 0 {
		if iteration%uint64(l.cfg.Passes.QualityInterval) == 0 && iteration != l.lastQualityIter {
			l.lastQualityIter = iteration
			l.runPass(ctx, prompt.RoleQuality, l.cfg.Passes.QualityBinary, "quality")
		}
	}
}

// runPass spawns binary with the role's prompt in the repository root
// and reads it to completion, logging the outcome. A pass is optional:
// an empty binary skips it silently, matching the collaborator being
// unconfigured.
func (l *Loop) runPass(ctx context.Context, role prompt.Role, binary, label string) {
	if binary == "" {
		return
	}
	log := l.log.With().Str("pass", label).Logger()
	text := prompt.Build(role, "", l.cfg.Project.Name, nil)
	argv := workerpool.BuildAgentArgv(binary, text)
	timeout := time.Duration(l.cfg.Agents.TimeoutSeconds) * time.Second

	runner, err := procrunner.Spawn(ctx, argv, l.vcsAdapter.RepoRoot(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("pass failed to spawn")
		return
	}
	log.Info().Msg("pass started")
	for {
		outcome, readErr := runner.ReadLine(timeout)
		if readErr != nil {
			_ = runner.Kill()
			log.Warn().Err(readErr).Msg("pass errored")
			return
		}
		if outcome.Timeout {
			_ = runner.Kill()
			log.Warn().Msg("pass exceeded timeout without output, killed")
			return
		}
		if outcome.EOF {
			if waitErr := runner.Wait(); waitErr != nil {
				log.Warn().Err(waitErr).Msg("pass exited with error")
				return
			}
			log.Info().Msg("pass completed")
			return
		}
	}
}

// Stop ends Run without waiting for in-flight worker tasks.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.state = RunStateStopped
	l.mu.Unlock()
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
}

// Pause suspends dispatch of new issues; in-flight tasks continue.
// Returns errs.KindAlreadyPaused if already paused.
func (l *Loop) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == RunStatePaused {
		return errs.New(errs.KindAlreadyPaused, nil)
	}
	l.state = RunStatePaused
	return nil
}

// Resume clears a pause. Returns errs.KindNotPaused if not paused.
func (l *Loop) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != RunStatePaused {
		return errs.New(errs.KindNotPaused, nil)
	}
	l.state = RunStateRunning
	return nil
}

// Step runs exactly one iteration while paused. Returns errs.KindNotPaused
// if not currently paused.
func (l *Loop) Step() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != RunStatePaused {
		return errs.New(errs.KindNotPaused, nil)
	}
	l.stepRequested = true
	return nil
}

// Interrupt cancels every in-flight worker task immediately.
func (l *Loop) Interrupt() {
	l.pool.InterruptAll()
}

// State returns the current run state.
func (l *Loop) State() RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) isPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == RunStatePaused
}

// Iteration returns the number of ticks run so far.
func (l *Loop) Iteration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iteration
}

func (l *Loop) consumeStep() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stepRequested {
		return false
	}
	l.stepRequested = false
	return true
}
