package scheduler

import (
	"errors"
	"testing"

	"github.com/femtomc/noface/internal/types"
)

func intPtr(i int) *int { return &i }

type fakeTracker struct {
	ready map[string]struct{}
	err   error
}

func (f fakeTracker) Ready(ids []string) (map[string]struct{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ready, nil
}

func TestScenarioD_ConflictBlocksDispatch(t *testing.T) {
	issues := map[string]types.Issue{
		"X-1": {ID: "X-1", Status: types.IssueStatusRunning, Manifest: &types.Manifest{PrimaryFiles: []string{"src/a.txt"}}},
		"X-2": {ID: "X-2", Status: types.IssueStatusPending, Manifest: &types.Manifest{PrimaryFiles: []string{"src/a.txt"}}},
	}
	tr := fakeTracker{ready: map[string]struct{}{"X-2": {}}}

	issue, ok, _ := NextReadyIssue(issues, tr)
	if ok {
		t.Errorf("expected no issue returned due to conflict, got %+v", issue)
	}

	// after X-1 completes, X-2 becomes schedulable
	issues["X-1"] = types.Issue{ID: "X-1", Status: types.IssueStatusCompleted, Manifest: issues["X-1"].Manifest}
	issue, ok, _ = NextReadyIssue(issues, tr)
	if !ok || issue.ID != "X-2" {
		t.Errorf("expected X-2 after X-1 completes, got %+v ok=%v", issue, ok)
	}
}

func TestPriorityMonotonicity(t *testing.T) {
	issues := map[string]types.Issue{
		"a": {ID: "a", Status: types.IssueStatusPending, Content: types.IssueContent{Priority: intPtr(2)}},
		"b": {ID: "b", Status: types.IssueStatusPending, Content: types.IssueContent{Priority: intPtr(0)}},
		"c": {ID: "c", Status: types.IssueStatusPending, Content: types.IssueContent{Priority: intPtr(1)}},
	}
	tr := fakeTracker{ready: map[string]struct{}{"a": {}, "b": {}, "c": {}}}

	wantOrder := []string{"b", "c", "a"}
	for _, want := range wantOrder {
		issue, ok, _ := NextReadyIssue(issues, tr)
		if !ok || issue.ID != want {
			t.Fatalf("expected %s next, got %+v ok=%v", want, issue, ok)
		}
		iss := issues[issue.ID]
		iss.Status = types.IssueStatusCompleted
		issues[issue.ID] = iss
	}
}

func TestMissingPriorityDefaultsTo99(t *testing.T) {
	issues := map[string]types.Issue{
		"no-prio": {ID: "no-prio", Status: types.IssueStatusPending},
		"has-prio": {ID: "has-prio", Status: types.IssueStatusPending, Content: types.IssueContent{Priority: intPtr(50)}},
	}
	tr := fakeTracker{ready: map[string]struct{}{"no-prio": {}, "has-prio": {}}}

	issue, ok, _ := NextReadyIssue(issues, tr)
	if !ok || issue.ID != "has-prio" {
		t.Errorf("expected has-prio (50 < 99 default) first, got %+v", issue)
	}
}

func TestTrackerFailureFailsOpen(t *testing.T) {
	issues := map[string]types.Issue{
		"x": {ID: "x", Status: types.IssueStatusPending},
	}
	tr := fakeTracker{err: errors.New("tracker unavailable")}

	issue, ok, failedOpen := NextReadyIssue(issues, tr)
	if !ok || issue.ID != "x" {
		t.Errorf("expected fail-open to return x, got %+v ok=%v", issue, ok)
	}
	if !failedOpen {
		t.Error("expected failedOpen=true")
	}
}

func TestNoPendingIssuesReturnsNone(t *testing.T) {
	issues := map[string]types.Issue{
		"x": {ID: "x", Status: types.IssueStatusCompleted},
	}
	_, ok, _ := NextReadyIssue(issues, fakeTracker{ready: map[string]struct{}{}})
	if ok {
		t.Error("expected no issue when nothing is pending")
	}
}
