// Package ingest coordinates document ingestion: a worker pool drains a
// submission queue and runs each document through extract, segment, embed,
// and index. The coordinator is the only writer of document status.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/config"
	"github.com/hyperjump/chie/internal/embedding"
	"github.com/hyperjump/chie/internal/extract"
	"github.com/hyperjump/chie/internal/fileid"
	"github.com/hyperjump/chie/internal/keyword"
	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/internal/storage"
	"github.com/hyperjump/chie/internal/vectorstore"
	"github.com/hyperjump/chie/pkg/utils"
)

// ErrQueueFull is returned by Submit when the ingestion queue has no room.
var ErrQueueFull = errors.New("ingestion queue full")

type job struct {
	docID string
	// content carries inline bytes for first-time submissions; reprocess
	// jobs reload from the content ref.
	content    []byte
	onlyFailed bool
}

// Coordinator owns the ingestion worker pool and all document status
// transitions: pending, processing, then completed or failed. Reprocessing a
// failed document moves it back through processing.
type Coordinator struct {
	storage   storage.Storage
	router    *vectorstore.Router
	keyword   keyword.Index
	registry  *embedding.Registry
	batcher   *embedding.Batcher
	extractor *extract.Extractor
	cfg       config.IngestConfig

	contentDir string
	hooks      []Hook
	logger     *zap.Logger

	jobs chan job

	mu        sync.Mutex
	inflight  map[string]context.CancelFunc
	cancelled map[string]bool

	wg      sync.WaitGroup
	stop    context.CancelFunc
	started bool
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithHooks registers ingestion hooks, invoked in order.
func WithHooks(hooks ...Hook) CoordinatorOption {
	return func(c *Coordinator) { c.hooks = append(c.hooks, hooks...) }
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator creates a coordinator. contentDir is where inline
// submissions are persisted so reprocessing can re-read them.
func NewCoordinator(
	store storage.Storage,
	router *vectorstore.Router,
	kw keyword.Index,
	registry *embedding.Registry,
	extractor *extract.Extractor,
	cfg config.IngestConfig,
	contentDir string,
	opts ...CoordinatorOption,
) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	batcherOpts := []embedding.BatcherOption{}
	if cfg.MaxUnitRetries > 0 {
		batcherOpts = append(batcherOpts, embedding.WithBatchRetry(utils.RetryOpts{
			MaxAttempts: cfg.MaxUnitRetries,
			InitialWait: 200 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
		}))
	}
	c := &Coordinator{
		storage:    store,
		router:     router,
		keyword:    kw,
		registry:   registry,
		batcher:    embedding.NewBatcher(registry, cfg.EmbedBatchSize, batcherOpts...),
		extractor:  extractor,
		cfg:        cfg,
		contentDir: contentDir,
		logger:     zap.NewNop(),
		jobs:       make(chan job, cfg.QueueSize),
		inflight:   make(map[string]context.CancelFunc),
		cancelled:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the worker pool. Workers run until Close.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	workCtx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(workCtx)
	}
	c.logger.Info("ingestion coordinator started",
		zap.Int("workers", c.cfg.Workers),
		zap.Int("queue_size", c.cfg.QueueSize))
}

// Close stops accepting work and waits for in-flight documents to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stop := c.stop
	c.mu.Unlock()

	close(c.jobs)
	c.wg.Wait()
	stop()
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for j := range c.jobs {
		if ctx.Err() != nil {
			return
		}
		c.process(ctx, j)
	}
}

// Submit registers a document and queues it for ingestion. Inline content is
// persisted under the content directory; a submission whose content ref
// matches an existing document re-ingests under the same document ID.
func (c *Coordinator) Submit(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	if input.KnowledgeBaseID == "" {
		return nil, fmt.Errorf("knowledge_base_id is required")
	}
	if len(input.Content) == 0 && input.ContentRef == "" {
		return nil, fmt.Errorf("content or content_ref is required")
	}
	if _, err := c.storage.GetKnowledgeBase(ctx, input.KnowledgeBaseID); err != nil {
		return nil, err
	}

	doc, err := c.resolveDocument(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(input.Content) > 0 {
		ref, err := c.persistContent(doc.ID, input)
		if err != nil {
			return nil, err
		}
		doc.ContentRef = ref
	}
	if err := c.upsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	c.mu.Lock()
	delete(c.cancelled, doc.ID)
	c.mu.Unlock()

	select {
	case c.jobs <- job{docID: doc.ID, content: input.Content}:
	default:
		c.setStatus(ctx, doc.ID, models.StatusFailed, ErrQueueFull.Error(), nil)
		return nil, ErrQueueFull
	}
	c.logger.Info("document submitted",
		zap.String("doc_id", doc.ID),
		zap.String("knowledge_base", doc.KnowledgeBaseID),
		zap.String("source_type", string(doc.SourceType)))
	return doc, nil
}

// resolveDocument builds the document row for a submission, reusing the
// existing document ID when the content ref was ingested before.
func (c *Coordinator) resolveDocument(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	doc := &models.Document{
		ID:              uuid.New().String(),
		KnowledgeBaseID: input.KnowledgeBaseID,
		Title:           input.Title,
		SourceType:      input.SourceType,
		ContentRef:      input.ContentRef,
		Status:          models.StatusPending,
		Metadata:        input.Metadata,
	}
	if doc.SourceType == "" {
		doc.SourceType = models.SourceUpload
	}
	if doc.Title == "" && input.ContentRef != "" {
		doc.Title = filepath.Base(input.ContentRef)
	}
	if input.ContentRef == "" {
		return doc, nil
	}
	if doc.SourceType == models.SourceUpload && len(input.Content) == 0 {
		// File-backed documents get a stable path-derived ID so dropping
		// the same file again updates in place.
		doc.ID = fileid.FileDocID(input.ContentRef)
		return doc, nil
	}
	existing, err := c.storage.FindDocumentByRef(ctx, input.KnowledgeBaseID, input.ContentRef)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return doc, nil
		}
		return nil, err
	}
	doc.ID = existing.ID
	return doc, nil
}

func (c *Coordinator) upsertDocument(ctx context.Context, doc *models.Document) error {
	_, err := c.storage.GetDocument(ctx, doc.ID)
	if errors.Is(err, models.ErrNotFound) {
		return c.storage.CreateDocument(ctx, doc)
	}
	if err != nil {
		return err
	}
	if err := c.storage.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	return c.storage.UpdateDocumentStatus(ctx, doc.ID, models.StatusPending, "", []models.UnitFailure{})
}

// persistContent writes inline bytes to the content directory, keeping the
// title's extension so the extractor can dispatch on it.
func (c *Coordinator) persistContent(docID string, input *models.DocumentInput) (string, error) {
	if err := os.MkdirAll(c.contentDir, 0o755); err != nil {
		return "", fmt.Errorf("content dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(input.Title))
	if ext == "" && input.ContentRef != "" {
		ext = strings.ToLower(filepath.Ext(input.ContentRef))
	}
	path := filepath.Join(c.contentDir, docID+ext)
	if err := os.WriteFile(path, input.Content, 0o644); err != nil {
		return "", fmt.Errorf("persist content: %w", err)
	}
	return path, nil
}

func (c *Coordinator) process(ctx context.Context, j job) {
	c.mu.Lock()
	if c.cancelled[j.docID] {
		delete(c.cancelled, j.docID)
		c.mu.Unlock()
		c.markCancelled(ctx, j.docID)
		return
	}
	docCtx, cancel := context.WithCancel(ctx)
	c.inflight[j.docID] = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.inflight, j.docID)
		delete(c.cancelled, j.docID)
		c.mu.Unlock()
	}()

	doc, err := c.storage.GetDocument(ctx, j.docID)
	if err != nil {
		c.logger.Error("queued document vanished", zap.String("doc_id", j.docID), zap.Error(err))
		return
	}
	kb, err := c.storage.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		c.setStatus(ctx, doc.ID, models.StatusFailed, fmt.Sprintf("knowledge base: %v", err), nil)
		return
	}
	c.setStatus(ctx, doc.ID, models.StatusProcessing, "", nil)
	doc.Status = models.StatusProcessing

	for _, h := range c.hooks {
		if err := h.BeforeIngest(docCtx, doc); err != nil {
			c.setStatus(ctx, doc.ID, models.StatusFailed, fmt.Sprintf("hook rejected: %v", err), nil)
			return
		}
	}

	start := time.Now()
	var result *pipelineResult
	if j.onlyFailed {
		result, err = c.reembedFailed(docCtx, doc, kb)
	} else {
		result, err = c.runPipeline(docCtx, doc, kb, j.content)
	}

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || c.wasCancelled(doc.ID)):
		c.markCancelled(ctx, doc.ID)
		doc.Status = models.StatusFailed
	case err != nil:
		c.setStatus(ctx, doc.ID, models.StatusFailed, err.Error(), nil)
		doc.Status = models.StatusFailed
		c.logger.Warn("document ingestion failed",
			zap.String("doc_id", doc.ID), zap.Error(err))
	case result.chunks == 0 && len(result.failures) > 0:
		c.setStatus(ctx, doc.ID, models.StatusFailed, "no units ingested", result.failures)
		doc.Status = models.StatusFailed
	default:
		failures := result.failures
		if failures == nil {
			failures = []models.UnitFailure{}
		}
		c.setStatus(ctx, doc.ID, models.StatusCompleted, "", failures)
		doc.Status = models.StatusCompleted
		c.logger.Info("document ingested",
			zap.String("doc_id", doc.ID),
			zap.Int("chunks", result.chunks),
			zap.Int("unit_failures", len(failures)),
			zap.Duration("took", time.Since(start)))
	}

	var failures []models.UnitFailure
	if result != nil {
		failures = result.failures
	}
	for _, h := range c.hooks {
		h.AfterIngest(ctx, doc, failures)
	}
}

func (c *Coordinator) wasCancelled(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[docID]
}

func (c *Coordinator) markCancelled(ctx context.Context, docID string) {
	c.setStatus(ctx, docID, models.StatusFailed, "cancelled", []models.UnitFailure{{
		UnitID:  docID,
		Kind:    models.FailureCancelled,
		Message: "ingestion cancelled",
	}})
	c.logger.Info("document ingestion cancelled", zap.String("doc_id", docID))
}

func (c *Coordinator) setStatus(ctx context.Context, docID string, status models.DocumentStatus, reason string, failures []models.UnitFailure) {
	if err := c.storage.UpdateDocumentStatus(ctx, docID, status, reason, failures); err != nil {
		c.logger.Error("status update failed",
			zap.String("doc_id", docID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// Cancel stops ingestion of a document. An in-flight pipeline finishes its
// current call and stops; a queued document is skipped when dequeued. Either
// way the document ends up failed with a cancellation reason. Cancelling a
// document that is not pending or processing is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, docID string) error {
	doc, err := c.storage.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusPending && doc.Status != models.StatusProcessing {
		return nil
	}
	c.mu.Lock()
	c.cancelled[docID] = true
	cancel, running := c.inflight[docID]
	c.mu.Unlock()
	if running {
		cancel()
	}
	return nil
}

// ReprocessFailed queues a failed document for another run. When every
// recorded failure names a chunk that survived embedding or store trouble,
// only those units are re-run; extraction-level failures re-run the whole
// pipeline from the stored content.
func (c *Coordinator) ReprocessFailed(ctx context.Context, docID string) (*models.Document, error) {
	doc, err := c.storage.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusFailed && len(doc.UnitFailures) == 0 {
		return nil, fmt.Errorf("document %s has nothing to reprocess (status %s)", docID, doc.Status)
	}
	if doc.Status == models.StatusProcessing {
		return nil, fmt.Errorf("document %s is still processing", docID)
	}

	onlyFailed := doc.Status == models.StatusCompleted || retryableOnly(doc.UnitFailures)
	if !onlyFailed && doc.ContentRef == "" {
		return nil, fmt.Errorf("document %s has no content ref to re-ingest from", docID)
	}

	c.mu.Lock()
	delete(c.cancelled, docID)
	c.mu.Unlock()

	c.setStatus(ctx, docID, models.StatusPending, "", nil)
	doc.Status = models.StatusPending

	select {
	case c.jobs <- job{docID: docID, onlyFailed: onlyFailed}:
	default:
		c.setStatus(ctx, docID, models.StatusFailed, ErrQueueFull.Error(), nil)
		return nil, ErrQueueFull
	}
	c.logger.Info("document queued for reprocessing",
		zap.String("doc_id", docID),
		zap.Bool("only_failed_units", onlyFailed))
	return doc, nil
}

// retryableOnly reports whether every failure can be retried in place, i.e.
// names a persisted chunk rather than a lost extraction unit.
func retryableOnly(failures []models.UnitFailure) bool {
	if len(failures) == 0 {
		return false
	}
	for _, f := range failures {
		if f.Kind != models.FailureEmbedding && f.Kind != models.FailureStore {
			return false
		}
	}
	return true
}

// DeleteDocument removes a document and everything derived from it, ordered
// so a partial delete never leaves vectors pointing at missing rows: keyword
// entries, then vectors in every collection, then chunk rows, then the
// document itself. Persisted inline content is removed last.
func (c *Coordinator) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := c.storage.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	kb, err := c.storage.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return err
	}
	chunks, err := c.storage.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return err
	}

	if err := c.keyword.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("keyword delete: %w", err)
	}
	if len(chunks) > 0 {
		if err := c.deleteVectors(ctx, kb, chunks); err != nil {
			return err
		}
	}
	if err := c.storage.DeleteChunksByDocumentID(ctx, docID); err != nil {
		return fmt.Errorf("chunk delete: %w", err)
	}
	if err := c.storage.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("document delete: %w", err)
	}
	if strings.HasPrefix(doc.ContentRef, c.contentDir+string(filepath.Separator)) {
		_ = os.Remove(doc.ContentRef)
	}
	c.logger.Info("document deleted", zap.String("doc_id", docID), zap.Int("chunks", len(chunks)))
	return nil
}

// DeleteKnowledgeBase purges a knowledge base: keyword entries per document,
// whole vector collections, then the metadata rows (chunks and documents
// cascade off the knowledge base row).
func (c *Coordinator) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	kb, err := c.storage.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return err
	}
	docs, err := c.storage.ListDocuments(ctx, kbID, "", 0, 0)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := c.keyword.DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("keyword delete %s: %w", doc.ID, err)
		}
		if strings.HasPrefix(doc.ContentRef, c.contentDir+string(filepath.Separator)) {
			_ = os.Remove(doc.ContentRef)
		}
	}
	for _, model := range uniqueModels(kb.Embedding) {
		collection := vectorstore.CollectionName(kbID, model)
		if _, err := c.router.Dimensions(collection); err != nil {
			continue
		}
		if err := c.router.RemoveCollection(ctx, collection); err != nil {
			return fmt.Errorf("remove collection %s: %w", collection, err)
		}
	}
	if err := c.storage.DeleteKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	c.logger.Info("knowledge base deleted",
		zap.String("knowledge_base", kbID),
		zap.Int("documents", len(docs)))
	return nil
}

// QueueDepth reports how many submissions are waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return len(c.jobs)
}
