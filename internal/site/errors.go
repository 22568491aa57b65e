package site

import "errors"

// Sentinel errors shared across the pipeline. Callers classify with
// errors.Is and wrap with fmt.Errorf("...: %w", err) for context.
var (
	// ErrUnresolvableURL marks input that cannot be canonicalized: no
	// scheme/host with no site root available, or a host that does not
	// match the site root.
	ErrUnresolvableURL = errors.New("unresolvable url")

	// ErrFetchFailed marks a failed page fetch (network error, non-2xx
	// status, or timeout). During a crawl it means skip-and-continue, never
	// "page removed".
	ErrFetchFailed = errors.New("fetch failed")

	// ErrEmbeddingFailed marks a failed embedding provider call.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrNotFound marks a missing record in the store.
	ErrNotFound = errors.New("not found")
)
