// Package embedding turns text into vectors. A Registry holds one Embedder
// per model reference so a knowledge base can embed each content type with a
// different model; the Batcher drives batched embedding during ingestion and
// isolates per-unit failures.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
