// Package types defines the core data model shared by every orchestrator
// component: issues, manifests, attempt records, worker slots, batches and
// counters. Values here are plain data; behaviour lives in the packages
// that consume them.
package types

import "time"

// IssueStatus is the lifecycle state of an Issue.
type IssueStatus string

const (
	IssueStatusPending   IssueStatus = "pending"
	IssueStatusAssigned  IssueStatus = "assigned"
	IssueStatusRunning   IssueStatus = "running"
	IssueStatusCompleted IssueStatus = "completed"
	IssueStatusFailed    IssueStatus = "failed"
)

// AttemptResult classifies the outcome of one worker attempt.
type AttemptResult string

const (
	AttemptResultSuccess   AttemptResult = "success"
	AttemptResultFailed    AttemptResult = "failed"
	AttemptResultTimeout   AttemptResult = "timeout"
	AttemptResultViolation AttemptResult = "violation"
)

// WorkerStatus is the lifecycle state of a worker slot.
type WorkerStatus string

const (
	WorkerStatusIdle      WorkerStatus = "idle"
	WorkerStatusStarting  WorkerStatus = "starting"
	WorkerStatusRunning   WorkerStatus = "running"
	WorkerStatusCompleted WorkerStatus = "completed"
	WorkerStatusFailed    WorkerStatus = "failed"
	WorkerStatusTimeout   WorkerStatus = "timeout"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
)

// MaxWorkers bounds the fixed-size worker slot array (§3 invariant 5).
const MaxWorkers = 8

// IssueContent mirrors the external tracker's view of an issue. Priority
// is nil when the tracker did not report one; the scheduler treats a
// missing priority as the lowest-priority default (99).
type IssueContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    *int   `json:"priority,omitempty"`
	IssueType   string `json:"issue_type"`
}

// Comment is one append-only entry in an issue's comment thread.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Manifest declares the three disjoint file sets an issue may touch.
// PrimaryFiles entries may carry an optional ":startLine-endLine" suffix;
// BasePath strips that suffix and is what ownership/conflict checks use.
type Manifest struct {
	PrimaryFiles   []string `json:"primary_files"`
	ReadFiles      []string `json:"read_files"`
	ForbiddenFiles []string `json:"forbidden_files"`
}

// BasePaths returns the substring before the first ":" of each primary
// file entry, deduplicated in input order.
func (m *Manifest) BasePaths() []string {
	if m == nil {
		return nil
	}
	return basePaths(m.PrimaryFiles)
}

func basePaths(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		bp := BasePath(f)
		if _, ok := seen[bp]; ok {
			continue
		}
		seen[bp] = struct{}{}
		out = append(out, bp)
	}
	return out
}

// BasePath strips an optional ":startLine-endLine" suffix from a manifest
// file entry.
func BasePath(entry string) string {
	for i := 0; i < len(entry); i++ {
		if entry[i] == ':' {
			return entry[:i]
		}
	}
	return entry
}

// Instrumentation captures predicted vs. actually touched files for a
// compliance check. Nil when the issue carries no manifest.
type Instrumentation struct {
	Predicted []string `json:"predicted"`
	Touched   []string `json:"touched"`
}

// AttemptRecord is the most recent attempt made against an issue. The core
// retains only the latest attempt per issue.
type AttemptRecord struct {
	AttemptNumber   uint32           `json:"attempt_number"`
	WallclockTime   time.Time        `json:"wallclock_timestamp"`
	Result          AttemptResult    `json:"result"`
	FilesTouched    []string         `json:"files_touched"`
	Notes           string           `json:"notes"`
	Instrumentation *Instrumentation `json:"instrumentation,omitempty"`
}

// Issue is the core unit of work.
type Issue struct {
	ID               string         `json:"id"`
	Status           IssueStatus    `json:"status"`
	AttemptCount     uint32         `json:"attempt_count"`
	AssignedWorkerID *int           `json:"assigned_worker_id,omitempty"`
	Manifest         *Manifest      `json:"manifest,omitempty"`
	LastAttempt      *AttemptRecord `json:"last_attempt,omitempty"`
	Content          IssueContent   `json:"content"`
	Comments         []Comment      `json:"comments"`
}

// WorkerSlot is one entry of the fixed MaxWorkers-size array.
type WorkerSlot struct {
	ID              int          `json:"id"`
	Status          WorkerStatus `json:"status"`
	CurrentIssueID  *string      `json:"current_issue_id,omitempty"`
	ProcessPID      *int         `json:"process_pid,omitempty"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
}

// Available reports whether the slot can accept a new dispatch.
func (s WorkerSlot) Available() bool {
	switch s.Status {
	case WorkerStatusIdle, WorkerStatusCompleted, WorkerStatusFailed:
		return true
	default:
		return false
	}
}

// Batch is a legacy grouping executed as a unit by periodic bulk dispatch.
type Batch struct {
	ID          string      `json:"id"`
	IssueIDs    []string    `json:"issue_ids"`
	Status      BatchStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Counters are the per-project monotonic totals.
type Counters struct {
	TotalIterations       uint64 `json:"total_iterations"`
	SuccessfulCompletions uint64 `json:"successful_completions"`
	FailedAttempts        uint64 `json:"failed_attempts"`
	NextBatchID           uint64 `json:"next_batch_id"`
	NumWorkers            int    `json:"num_workers"`
}

// Baseline is the set of paths already dirty when a worker was spawned.
// Consumed once during that worker's compliance check; never persisted.
type Baseline struct {
	Files map[string]struct{}
}

// NewBaseline builds a Baseline from a slice of paths.
func NewBaseline(paths []string) Baseline {
	b := Baseline{Files: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		b.Files[p] = struct{}{}
	}
	return b
}

// Contains reports whether path was part of the baseline.
func (b Baseline) Contains(path string) bool {
	_, ok := b.Files[path]
	return ok
}

// Session is the transcript collaborator's session record.
type Session struct {
	ID        string     `json:"id"`
	IssueID   string     `json:"issue_id"`
	WorkerID  int        `json:"worker_id"`
	Resuming  bool       `json:"resuming"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}
