// Package scheduler implements C5: a pull-based scheduler that returns
// the next ready issue, or none, given the issue table and the set of
// in-flight issues. The scheduler never mutates state; the caller assigns
// the returned issue to a worker.
package scheduler

import (
	"sort"

	"github.com/femtomc/noface/internal/types"
)

// Tracker is the subset of the external tracker's behaviour the scheduler
// depends on. A failing Ready call makes the scheduler fail open (§4.5
// step 2) — callers should log that condition themselves.
type Tracker interface {
	Ready(issueIDs []string) (readyIDs map[string]struct{}, err error)
}

const defaultPriority = 99

// NextReadyIssue implements §4.5's next_ready_issue() operation.
//
//  1. Candidate set: every issue with status = pending.
//  2. Dependency gate: intersect with the tracker's ready set; on tracker
//     error, fail open (treat all pending as ready).
//  3. Conflict gate: discard candidates whose manifest primary-file
//     base-paths intersect any assigned/running issue's manifest.
//  4. Priority sort ascending, missing priority defaults to 99, ties
//     broken by issue id.
//  5. Return the first survivor, or none.
func NextReadyIssue(issues map[string]types.Issue, tracker Tracker) (issue *types.Issue, ok bool, failedOpen bool) {
	var pendingIDs []string
	for id, iss := range issues {
		if iss.Status == types.IssueStatusPending {
			pendingIDs = append(pendingIDs, id)
		}
	}
	if len(pendingIDs) == 0 {
		return nil, false, false
	}

	ready, failedOpen := readySet(pendingIDs, tracker)

	busyBasePaths := inFlightBasePaths(issues)

	var candidates []types.Issue
	for _, id := range pendingIDs {
		if _, isReady := ready[id]; !isReady {
			continue
		}
		iss := issues[id]
		if conflicts(iss.Manifest, busyBasePaths) {
			continue
		}
		candidates = append(candidates, iss)
	}
	if len(candidates) == 0 {
		return nil, false, failedOpen
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := priorityOf(candidates[i]), priorityOf(candidates[j])
		if pi != pj {
			return pi < pj
		}
		return candidates[i].ID < candidates[j].ID
	})

	selected := candidates[0]
	return &selected, true, failedOpen
}

func readySet(pendingIDs []string, tracker Tracker) (map[string]struct{}, bool) {
	if tracker == nil {
		return allReady(pendingIDs), false
	}
	ready, err := tracker.Ready(pendingIDs)
	if err != nil {
		// Fail open: dependency checks are a courtesy, not a safety
		// property of the core (§4.5, §9 open questions).
		return allReady(pendingIDs), true
	}
	return ready, false
}

func allReady(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func inFlightBasePaths(issues map[string]types.Issue) map[string]struct{} {
	busy := make(map[string]struct{})
	for _, iss := range issues {
		if iss.Status != types.IssueStatusAssigned && iss.Status != types.IssueStatusRunning {
			continue
		}
		for _, bp := range iss.Manifest.BasePaths() {
			busy[bp] = struct{}{}
		}
	}
	return busy
}

func conflicts(manifest *types.Manifest, busyBasePaths map[string]struct{}) bool {
	for _, bp := range manifest.BasePaths() {
		if _, ok := busyBasePaths[bp]; ok {
			return true
		}
	}
	return false
}

func priorityOf(issue types.Issue) int {
	if issue.Content.Priority == nil {
		return defaultPriority
	}
	return *issue.Content.Priority
}
