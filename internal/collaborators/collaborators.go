// Package collaborators gives the optional monowiki/LSP/search
// integrations (§6) a uniform shape so the Main Loop can invoke them
// without knowing which, if any, are wired up. The core never blocks on
// these; every method takes a context so a caller can bound how long it
// waits before giving up and moving on.
package collaborators

import "context"

// Monowiki is the optional search-integration collaborator.
type Monowiki interface {
	// Search returns at most limit hits for query. Implementations must
	// return promptly on ctx cancellation rather than blocking the loop.
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// LSP is the optional language-server collaborator.
type LSP interface {
	Diagnostics(ctx context.Context, path string) ([]string, error)
}

// NoopMonowiki never finds anything; used when no search backend is
// configured.
type NoopMonowiki struct{}

func (NoopMonowiki) Search(ctx context.Context, query string, limit int) ([]string, error) {
	return nil, nil
}

// NoopLSP reports no diagnostics; used when no language server is
// configured.
type NoopLSP struct{}

func (NoopLSP) Diagnostics(ctx context.Context, path string) ([]string, error) {
	return nil, nil
}
