package domain

import "errors"

// Error taxonomy surfaced to the rendering layer. Adapters wrap these with
// context via fmt.Errorf("...: %w", err); consumers classify with errors.Is.
var (
	// ErrSourceUnavailable means the source is closed or unreachable.
	// Surfaced to the user; never retried automatically.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidSort means the requested column cannot be sorted by this
	// source or type. The previous sort is retained and no fetch happens.
	ErrInvalidSort = errors.New("column not sortable")

	// ErrTimeout means a fetch exceeded the adapter's deadline. Surfaced
	// with an explicit retry affordance.
	ErrTimeout = errors.New("fetch timed out")
)
