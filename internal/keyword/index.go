// Package keyword provides the lexical (BM25) half of hybrid retrieval:
// chunk indexing and search on Bleve, plus query spell suggestions built
// from the index term dictionary.
package keyword

import (
	"context"

	"github.com/hyperjump/chie/internal/models"
)

// SearchOptions are optional lexical search parameters. Nil means defaults.
type SearchOptions struct {
	// DocumentID restricts hits to one document.
	DocumentID string
	// ContentType restricts hits to one content type.
	ContentType models.ContentType
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// Index defines lexical search operations over chunks.
type Index interface {
	// IndexChunks adds or replaces chunks. Re-indexing a chunk id is an
	// update, keeping lexical state idempotent alongside the vector store.
	IndexChunks(ctx context.Context, chunks []*models.Chunk) error
	// Search runs a match query scoped to one knowledge base.
	Search(ctx context.Context, kbID, query string, limit int, opts *SearchOptions) ([]*Result, error)
	// DeleteChunks removes chunks by id. Unknown ids are no-ops.
	DeleteChunks(ctx context.Context, chunkIDs []string) error
	// DeleteDocument removes every chunk of a document.
	DeleteDocument(ctx context.Context, documentID string) error
	// DocCount returns the total number of indexed chunks.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single lexical search hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// TermDictionary exposes the index term dictionary for spell suggestions.
type TermDictionary interface {
	// GetAllTerms returns all unique terms in the index.
	GetAllTerms() ([]string, error)
	// GetTermFrequency returns the document frequency for a term.
	GetTermFrequency(term string) (int, error)
}
