// Package errs defines the error-kind taxonomy surfaced by the core to
// command-surface callers. Internal packages return ordinary wrapped
// errors; this package gives them a stable, switchable Kind.
package errs

import "fmt"

// Kind is one of the error kinds the core exposes across its API boundary.
type Kind string

const (
	KindNotInitialised       Kind = "not_initialised"
	KindNoWorkers            Kind = "no_workers"
	KindNotPaused            Kind = "not_paused"
	KindAlreadyPaused        Kind = "already_paused"
	KindNotRunning           Kind = "not_running"
	KindNotFound             Kind = "not_found"
	KindWorkspaceCreateFail  Kind = "workspace_creation_failed"
	KindAgentSpawnFailed     Kind = "agent_spawn_failed"
	KindAgentTimeout         Kind = "agent_timeout"
	KindAgentUnexpectedEOF   Kind = "agent_unexpected_eof"
	KindMergeConflict        Kind = "merge_conflict"
	KindManifestViolation    Kind = "manifest_violation"
)

// CoreError pairs an opaque underlying error with a stable Kind so callers
// across the command-surface transport can switch on it without string
// matching.
type CoreError struct {
	Kind Kind
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New wraps err with kind. err may be nil.
func New(kind Kind, err error) *CoreError {
	return &CoreError{Kind: kind, Err: err}
}

// Newf wraps a formatted error with kind.
func Newf(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is a
// *CoreError. Returns "" and false otherwise.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if asCoreError(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func asCoreError(err error, target **CoreError) bool {
	for err != nil {
		if ce, ok := err.(*CoreError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
