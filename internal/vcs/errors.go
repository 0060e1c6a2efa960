package vcs

import "errors"

// Sentinel errors returned by the VCS adapter.
var (
	// ErrNotGitRepo is returned when the configured directory is not
	// inside a git working tree.
	ErrNotGitRepo = errors.New("vcs: not a git repository")
	// ErrResolveHEAD is returned when HEAD cannot be resolved to a commit.
	ErrResolveHEAD = errors.New("vcs: could not resolve HEAD commit")
	// ErrWorkspaceCollision is returned after exhausting retries on a
	// worktree path that keeps colliding with an existing one.
	ErrWorkspaceCollision = errors.New("vcs: workspace path collision")
	// ErrMergeSourceUnavailable is returned when neither a workspace path
	// nor a worker id is available to locate the merge source.
	ErrMergeSourceUnavailable = errors.New("vcs: merge source unavailable")
	// ErrEmptyMergeSource is returned when the workspace has no commits
	// to merge.
	ErrEmptyMergeSource = errors.New("vcs: workspace has no commits to merge")
	// ErrRepoUnclean is returned when the primary working copy will not
	// settle into a clean state before a squash.
	ErrRepoUnclean = errors.New("vcs: primary working copy did not become clean")
)
