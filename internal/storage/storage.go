// Package storage persists knowledge bases, documents, and chunk metadata.
// Vectors live in the vector store and lexical state in the keyword index;
// this layer is the system of record everything else is rebuilt from.
package storage

import (
	"context"

	"github.com/hyperjump/chie/internal/models"
)

// Storage defines metadata persistence operations. Lookups return
// models.ErrNotFound (wrapped) for missing rows.
type Storage interface {
	// Knowledge base operations
	CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error)
	UpdateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	DeleteKnowledgeBase(ctx context.Context, id string) error
	ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error)

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	// UpdateDocumentStatus transitions ingestion status in place. failures
	// replace the stored set when non-nil.
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, reason string, failures []models.UnitFailure) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, kbID string, status models.DocumentStatus, offset, limit int) ([]*models.Document, error)
	// FindDocumentByRef returns the document with the given content ref in a
	// knowledge base, for re-ingest detection on watched files.
	FindDocumentByRef(ctx context.Context, kbID, contentRef string) (*models.Document, error)

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error

	// Stats
	CountDocuments(ctx context.Context, kbID string) (int64, error)
	CountChunks(ctx context.Context, kbID string) (int64, error)

	Close() error
}
