package watcher

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/fileid"
	"github.com/hyperjump/chie/internal/ingest"
	"github.com/hyperjump/chie/internal/models"
)

// DropIngestor is the Sink that connects drop directories to the ingestion
// coordinator: dropped files become upload submissions into the configured
// knowledge base, removed files delete the path-derived document.
type DropIngestor struct {
	coord  *ingest.Coordinator
	kbID   string
	logger *zap.Logger
}

// NewDropIngestor creates a sink ingesting into the given knowledge base.
func NewDropIngestor(coord *ingest.Coordinator, kbID string, logger *zap.Logger) *DropIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DropIngestor{coord: coord, kbID: kbID, logger: logger}
}

// FileDropped submits the file for ingestion. Resubmitting the same path
// re-ingests under the same document ID.
func (d *DropIngestor) FileDropped(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	doc, err := d.coord.Submit(ctx, &models.DocumentInput{
		KnowledgeBaseID: d.kbID,
		SourceType:      models.SourceUpload,
		ContentRef:      abs,
	})
	if err != nil {
		return err
	}
	d.logger.Debug("dropped file submitted",
		zap.String("path", abs), zap.String("doc_id", doc.ID))
	return nil
}

// FileRemoved deletes the document ingested from this path, if any.
func (d *DropIngestor) FileRemoved(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	docID := fileid.FileDocID(abs)
	if err := d.coord.DeleteDocument(ctx, docID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	d.logger.Debug("dropped file deleted",
		zap.String("path", abs), zap.String("doc_id", docID))
	return nil
}
