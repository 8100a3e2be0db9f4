// Package vectorstore provides vector storage backends behind a uniform
// contract, and a router that dispatches collections to backends and moves
// them between backends without downtime.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/hyperjump/chie/internal/models"
)

// Metric is the similarity metric of a collection. All vectors of a
// collection share one metric; mixing metrics within a collection is not
// possible by construction.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

// Record is the embedding of exactly one chunk in one collection.
type Record struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Vector     []float32
	Payload    map[string]string
}

// Result is a similarity search hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Score      float64
}

// Backend stores vectors for named collections. Implementations must make
// Upsert idempotent by chunk id and treat deletes of missing ids as no-ops.
type Backend interface {
	// Type returns the backend type identifier ("memory", "bolt", "qdrant").
	Type() string
	// EnsureCollection creates the collection if it does not exist. The
	// declared dimensionality and metric are fixed for its lifetime.
	EnsureCollection(ctx context.Context, collection string, dimensions int, metric Metric) error
	// DropCollection removes a collection and all its vectors.
	DropCollection(ctx context.Context, collection string) error
	// Upsert inserts or replaces records by chunk id.
	Upsert(ctx context.Context, collection string, records []Record) error
	// Delete removes vectors by chunk id. Missing ids are ignored.
	Delete(ctx context.Context, collection string, chunkIDs []string) error
	// Search returns at most topK results ordered by descending similarity.
	// filters are exact-match conditions against record payload fields
	// ("document_id", "content_type", ...).
	Search(ctx context.Context, collection string, query []float32, topK int, filters map[string]string) ([]Result, error)
	// Count returns the number of vectors in a collection.
	Count(ctx context.Context, collection string) (int, error)
	// Scan streams every record of a collection. Used by migration's copy
	// and verification passes.
	Scan(ctx context.Context, collection string, fn func(Record) error) error
	// Close releases backend resources.
	Close() error
}

// filterMatch reports whether a record satisfies exact-match filters.
func filterMatch(r Record, filters map[string]string) bool {
	for k, v := range filters {
		switch k {
		case "document_id":
			if r.DocumentID != v {
				return false
			}
		default:
			if r.Payload[k] != v {
				return false
			}
		}
	}
	return true
}

// storeErr classifies a remote backend failure as transient so the router
// retries it before surfacing.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrStoreUnavailable, op, err)
}

// checkDimensions validates a vector against the collection's declared
// dimensionality.
func checkDimensions(got, want int) error {
	if got != want {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", got, want)
	}
	return nil
}
