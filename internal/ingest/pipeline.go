package ingest

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/internal/segment"
	"github.com/hyperjump/chie/internal/vectorstore"
)

// pipelineResult summarizes one document run.
type pipelineResult struct {
	chunks   int
	failures []models.UnitFailure
}

// runPipeline executes the full per-document pipeline: extract, segment,
// embed, then upsert into the keyword index and every vector collection the
// knowledge base's models map to. All derived data for the document is
// replaced, so re-running is idempotent. A returned error is terminal for the
// document; contained failures come back in the result instead.
func (c *Coordinator) runPipeline(ctx context.Context, doc *models.Document, kb *models.KnowledgeBase, content []byte) (*pipelineResult, error) {
	if len(content) == 0 && doc.SourceType != models.SourceURL {
		data, err := os.ReadFile(doc.ContentRef)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", models.ErrExtraction, doc.ContentRef, err)
		}
		content = data
	}

	units, failures, err := c.extractor.Extract(ctx, doc, content)
	if err != nil {
		return nil, err
	}
	chunks := segment.New(kb.Segment).Segment(doc.ID, kb.ID, units)
	c.logger.Debug("document segmented",
		zap.String("doc_id", doc.ID),
		zap.Int("units", len(units)),
		zap.Int("chunks", len(chunks)))

	if err := c.purgeDerived(ctx, doc, kb); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failures = append(failures, c.batcher.EmbedChunks(ctx, kb.Embedding, chunks)...)

	if err := c.storage.BatchCreateChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("persist chunks: %w", err)
	}
	if err := c.keyword.IndexChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}
	failures = append(failures, c.upsertVectors(ctx, kb, chunks)...)

	return &pipelineResult{chunks: len(chunks), failures: failures}, nil
}

// reembedFailed re-runs only the previously failed units of a document:
// chunks named by embedding or store failures are re-embedded and upserted;
// everything already ingested is left alone.
func (c *Coordinator) reembedFailed(ctx context.Context, doc *models.Document, kb *models.KnowledgeBase) (*pipelineResult, error) {
	ids := make([]string, 0, len(doc.UnitFailures))
	for _, f := range doc.UnitFailures {
		ids = append(ids, f.UnitID)
	}
	chunks, err := c.storage.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load failed chunks: %w", err)
	}
	if len(chunks) == 0 {
		return &pipelineResult{}, nil
	}

	failures := c.batcher.EmbedChunks(ctx, kb.Embedding, chunks)
	failures = append(failures, c.upsertVectors(ctx, kb, chunks)...)

	total, err := c.storage.CountChunks(ctx, kb.ID)
	if err != nil {
		total = int64(len(chunks))
	}
	return &pipelineResult{chunks: int(total), failures: failures}, nil
}

// upsertVectors groups embedded chunks by their policy model and writes each
// group to its collection, creating collections on first use. A failed upsert
// becomes a store failure per affected chunk rather than aborting siblings.
func (c *Coordinator) upsertVectors(ctx context.Context, kb *models.KnowledgeBase, chunks []*models.Chunk) []models.UnitFailure {
	byModel := make(map[string][]*models.Chunk)
	for _, chunk := range chunks {
		if chunk.Embedding == nil {
			continue // embedding already failed; recorded upstream
		}
		model := kb.Embedding.ModelFor(chunk.ContentType)
		byModel[model] = append(byModel[model], chunk)
	}

	var failures []models.UnitFailure
	for model, group := range byModel {
		collection := vectorstore.CollectionName(kb.ID, model)
		if err := c.ensureCollection(ctx, collection, kb, model); err != nil {
			failures = append(failures, groupFailures(group, err)...)
			continue
		}
		records := make([]vectorstore.Record, len(group))
		for i, chunk := range group {
			records[i] = vectorstore.Record{
				ChunkID:    chunk.ID,
				DocumentID: chunk.DocumentID,
				Ordinal:    chunk.Ordinal,
				Vector:     chunk.Embedding,
				Payload: map[string]string{
					"content_type": string(chunk.ContentType),
					"speaker":      chunk.Meta.Speaker,
				},
			}
		}
		if err := c.router.Upsert(ctx, collection, records); err != nil {
			c.logger.Warn("vector upsert failed",
				zap.String("collection", collection),
				zap.Int("chunks", len(group)),
				zap.Error(err))
			failures = append(failures, groupFailures(group, err)...)
		}
	}
	return failures
}

func (c *Coordinator) ensureCollection(ctx context.Context, collection string, kb *models.KnowledgeBase, model string) error {
	if _, err := c.router.Dimensions(collection); err == nil {
		return nil
	}
	embedder, err := c.registry.ForModel(model)
	if err != nil {
		return err
	}
	return c.router.AddCollection(ctx, collection, kb.Store, embedder.Dimensions())
}

// purgeDerived removes a document's existing index entries so a re-ingest
// replaces rather than accumulates. Vectors go first out of the metadata
// store so an interrupted purge leaves no orphaned vectors behind rows that
// no longer exist.
func (c *Coordinator) purgeDerived(ctx context.Context, doc *models.Document, kb *models.KnowledgeBase) error {
	existing, err := c.storage.GetChunksByDocumentID(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("load existing chunks: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := c.deleteVectors(ctx, kb, existing); err != nil {
		return err
	}
	if err := c.keyword.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("keyword purge: %w", err)
	}
	if err := c.storage.DeleteChunksByDocumentID(ctx, doc.ID); err != nil {
		return fmt.Errorf("chunk purge: %w", err)
	}
	return nil
}

// deleteVectors removes chunk vectors from every collection the knowledge
// base's models map to. Collections that were never created are skipped.
func (c *Coordinator) deleteVectors(ctx context.Context, kb *models.KnowledgeBase, chunks []*models.Chunk) error {
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	for _, model := range uniqueModels(kb.Embedding) {
		collection := vectorstore.CollectionName(kb.ID, model)
		if _, err := c.router.Dimensions(collection); err != nil {
			continue
		}
		if err := c.router.Delete(ctx, collection, ids); err != nil {
			return fmt.Errorf("vector purge from %s: %w", collection, err)
		}
	}
	return nil
}

func uniqueModels(policy models.EmbeddingPolicy) []string {
	seen := make(map[string]bool, len(policy.Models))
	var out []string
	for _, model := range policy.Models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		out = append(out, model)
	}
	return out
}

func groupFailures(group []*models.Chunk, err error) []models.UnitFailure {
	out := make([]models.UnitFailure, len(group))
	for i, chunk := range group {
		out[i] = models.UnitFailure{
			UnitID:  chunk.ID,
			Kind:    models.FailureStore,
			Message: err.Error(),
		}
	}
	return out
}
