package ingest

import (
	"context"

	"github.com/hyperjump/chie/internal/models"
)

// Hook observes document ingestion at stage boundaries. Hooks run
// synchronously on the worker goroutine, in registration order.
type Hook interface {
	// BeforeIngest runs after the document enters processing and before
	// extraction. A non-nil error vetoes the ingestion and fails the
	// document.
	BeforeIngest(ctx context.Context, doc *models.Document) error

	// AfterIngest runs once the document reaches a terminal status for
	// this run, with whatever unit failures were recorded.
	AfterIngest(ctx context.Context, doc *models.Document, failures []models.UnitFailure)
}
