package models

import "errors"

// Sentinel errors for the failure taxonomy. Callers classify with
// errors.Is and wrap with fmt.Errorf("...: %w", err) to add context.
var (
	// ErrExtraction marks a source as unreadable or corrupt. Terminal for
	// the affected unit; never retried.
	ErrExtraction = errors.New("extraction failed")

	// ErrEmbedding marks a transient embedding failure. Retried with
	// bounded backoff before the unit is marked failed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrStoreUnavailable marks an unreachable vector-store backend.
	// Retried at the router level; surfaced only after the retry budget
	// is exhausted.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrMigrationConsistency means source and target diverged during
	// migration verification. The migration is rolled back and the source
	// remains authoritative.
	ErrMigrationConsistency = errors.New("migration consistency check failed")

	// ErrQueryTimeout marks a sub-query that missed its deadline. Its
	// collection is excluded from fusion; the overall query still succeeds.
	ErrQueryTimeout = errors.New("query timed out")

	// ErrNotFound is returned by storage lookups for missing rows.
	ErrNotFound = errors.New("not found")
)

// FailureKind labels a UnitFailure for operator queries.
type FailureKind string

const (
	FailureExtraction FailureKind = "extraction"
	FailureEmbedding  FailureKind = "embedding"
	FailureStore      FailureKind = "store"
	FailureCancelled  FailureKind = "cancelled"
)

// UnitFailure records one failed unit of work within a document's ingestion.
// Attached to the document rather than aborting sibling units.
type UnitFailure struct {
	UnitID  string      `json:"unit_id"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// KindForError maps a taxonomy error to its failure kind.
func KindForError(err error) FailureKind {
	switch {
	case errors.Is(err, ErrExtraction):
		return FailureExtraction
	case errors.Is(err, ErrEmbedding):
		return FailureEmbedding
	case errors.Is(err, ErrStoreUnavailable):
		return FailureStore
	default:
		return FailureEmbedding
	}
}
