// Package command implements C8, the Command Surface: the thin
// translation layer between external verbs (CLI, eventually any other
// transport) and the Main Loop / State Store operations that satisfy
// them. Failures the surface or the Main Loop detect themselves (unknown
// or duplicate issue ids, pause-state preconditions) are *errs.CoreError
// values, so callers can switch on Kind without string matching; State
// Store errors are returned as the store reported them.
package command

import (
	"time"

	"github.com/femtomc/noface/internal/errs"
	"github.com/femtomc/noface/internal/loop"
	"github.com/femtomc/noface/internal/store"
	"github.com/femtomc/noface/internal/types"
)

// StatusReport is the response to the status verb.
type StatusReport struct {
	State    loop.RunState
	Workers  [types.MaxWorkers]types.WorkerSlot
	Counters types.Counters
}

// Surface implements C8 against a Loop and its shared State Store.
type Surface struct {
	l  *loop.Loop
	st *store.Store
}

// New returns a Surface for loop l backed by store st.
func New(l *loop.Loop, st *store.Store) *Surface {
	return &Surface{l: l, st: st}
}

// Status reports the loop's run state, the worker slot array and the
// project counters.
func (s *Surface) Status() (StatusReport, error) {
	arr, err := s.st.WorkerArray()
	if err != nil {
		return StatusReport{}, err
	}
	counters, err := s.st.Counters()
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{State: s.l.State(), Workers: arr, Counters: counters}, nil
}

// Pause suspends dispatch of new issues.
func (s *Surface) Pause() error {
	return s.l.Pause()
}

// Resume clears a pause.
func (s *Surface) Resume() error {
	return s.l.Resume()
}

// Step runs exactly one iteration while paused.
func (s *Surface) Step() error {
	return s.l.Step()
}

// Interrupt cancels every in-flight worker task immediately.
func (s *Surface) Interrupt() error {
	s.l.Interrupt()
	return nil
}

// FileIssue creates a new pending issue directly in the State Store,
// bypassing the external tracker (used when the tracker integration is
// unavailable or for local-only issues).
func (s *Surface) FileIssue(id string, content types.IssueContent, manifest *types.Manifest) error {
	if id == "" {
		return errs.Newf(errs.KindNotFound, "issue id must not be empty")
	}
	if _, ok, err := s.st.GetIssue(id); err != nil {
		return err
	} else if ok {
		return errs.Newf(errs.KindNotFound, "issue %s already exists", id)
	}
	return s.st.PutIssue(types.Issue{
		ID:       id,
		Status:   types.IssueStatusPending,
		Content:  content,
		Manifest: manifest,
	})
}

// InspectIssue returns the full stored record for id.
func (s *Surface) InspectIssue(id string) (types.Issue, error) {
	issue, ok, err := s.st.GetIssue(id)
	if err != nil {
		return types.Issue{}, err
	}
	if !ok {
		return types.Issue{}, errs.Newf(errs.KindNotFound, "issue %s not found", id)
	}
	return issue, nil
}

// AddComment appends a comment to issue id's thread.
func (s *Surface) AddComment(id, author, body string) error {
	issue, ok, err := s.st.GetIssue(id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Newf(errs.KindNotFound, "issue %s not found", id)
	}
	issue.Comments = append(issue.Comments, types.Comment{
		Author:    author,
		Body:      body,
		CreatedAt: time.Now(),
	})
	return s.st.PutIssue(issue)
}

// UpdateIssueContent replaces issue id's content and manifest.
func (s *Surface) UpdateIssueContent(id string, content types.IssueContent, manifest *types.Manifest) error {
	issue, ok, err := s.st.GetIssue(id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Newf(errs.KindNotFound, "issue %s not found", id)
	}
	issue.Content = content
	issue.Manifest = manifest
	return s.st.PutIssue(issue)
}
