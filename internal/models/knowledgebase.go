// Package models defines core data structures for knowledge bases, documents,
// chunks, and retrieval results.
package models

import "time"

// KnowledgeBase groups documents under a shared embedding, segmentation, and
// vector-store policy. All chunks of a knowledge base live in one collection
// per embedding model.
type KnowledgeBase struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	Embedding   EmbeddingPolicy `json:"embedding" db:"embedding"`
	Store       StoreConfig     `json:"store" db:"store"`
	Segment     SegmentPolicy   `json:"segment" db:"segment"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// EmbeddingPolicy maps content types to embedding model references. Text is
// the required baseline; multi-modal content types fall back to the text
// model when no dedicated entry exists.
type EmbeddingPolicy struct {
	Models map[ContentType]string `json:"models" yaml:"models"`
}

// ModelFor returns the model reference for a content type, falling back to
// the text model.
func (p EmbeddingPolicy) ModelFor(ct ContentType) string {
	if m, ok := p.Models[ct]; ok && m != "" {
		return m
	}
	return p.Models[ContentTypeText]
}

// StoreConfig selects and configures the vector-store backend for a
// knowledge base's collections.
type StoreConfig struct {
	Backend    string `json:"backend" yaml:"backend"` // "memory", "bolt", "qdrant"
	Path       string `json:"path,omitempty" yaml:"path"`
	Address    string `json:"address,omitempty" yaml:"address"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
	Metric     string `json:"metric,omitempty" yaml:"metric"` // "cosine" (default) or "dot"
}

// SegmentPolicy controls chunk sizing. Sizes are in approximate tokens, not
// characters.
type SegmentPolicy struct {
	TargetSize int `json:"target_size" yaml:"target_size"`
	Overlap    int `json:"overlap" yaml:"overlap"`
	MinSize    int `json:"min_size" yaml:"min_size"`
}
