package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/pkg/utils"
)

// Batcher embeds chunks in model-grouped batches during ingestion. A failed
// batch degrades to per-chunk embedding so one poisoned text cannot take its
// batch siblings down with it; chunks that still fail after the retry budget
// come back as unit failures with their embeddings unset.
type Batcher struct {
	registry  *Registry
	batchSize int
	retry     utils.RetryOpts
	logger    *zap.Logger
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithBatchRetry sets the retry budget for transient embedding errors.
func WithBatchRetry(opts utils.RetryOpts) BatcherOption {
	return func(b *Batcher) { b.retry = opts }
}

// WithBatcherLogger sets the logger.
func WithBatcherLogger(logger *zap.Logger) BatcherOption {
	return func(b *Batcher) { b.logger = logger }
}

// NewBatcher creates a Batcher. batchSize <= 0 defaults to 32.
func NewBatcher(registry *Registry, batchSize int, opts ...BatcherOption) *Batcher {
	if batchSize <= 0 {
		batchSize = 32
	}
	b := &Batcher{
		registry:  registry,
		batchSize: batchSize,
		retry:     utils.DefaultRetryOpts,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EmbedChunks fills in the Embedding field of every chunk it can, grouping
// by the policy's model per content type. It returns a failure per chunk it
// could not embed; those chunks keep a nil embedding and the rest of the
// document proceeds.
func (b *Batcher) EmbedChunks(ctx context.Context, policy models.EmbeddingPolicy, chunks []*models.Chunk) []models.UnitFailure {
	groups := make(map[string][]*models.Chunk)
	var order []string
	for _, c := range chunks {
		model := policy.ModelFor(c.ContentType)
		if _, ok := groups[model]; !ok {
			order = append(order, model)
		}
		groups[model] = append(groups[model], c)
	}

	var failures []models.UnitFailure
	for _, model := range order {
		group := groups[model]
		embedder, err := b.registry.ForModel(model)
		if err != nil {
			for _, c := range group {
				failures = append(failures, unitFailure(c.ID, err))
			}
			continue
		}
		for start := 0; start < len(group); start += b.batchSize {
			end := start + b.batchSize
			if end > len(group) {
				end = len(group)
			}
			failures = append(failures, b.embedBatch(ctx, embedder, model, group[start:end])...)
		}
	}
	return failures
}

// embedBatch embeds one batch, falling back to per-chunk embedding when the
// batch call fails after retries.
func (b *Batcher) embedBatch(ctx context.Context, embedder Embedder, model string, batch []*models.Chunk) []models.UnitFailure {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	var vectors [][]float32
	err := b.do(ctx, func() error {
		var berr error
		vectors, berr = embedder.EmbedBatch(ctx, texts)
		return berr
	})
	if err == nil {
		for i, c := range batch {
			c.Embedding = vectors[i]
		}
		return nil
	}

	b.logger.Warn("batch embedding failed, isolating per chunk",
		zap.String("model", model), zap.Int("batch_size", len(batch)), zap.Error(err))

	var failures []models.UnitFailure
	for _, c := range batch {
		chunk := c
		cerr := b.do(ctx, func() error {
			vec, err := embedder.Embed(ctx, chunk.Content)
			if err != nil {
				return err
			}
			chunk.Embedding = vec
			return nil
		})
		if cerr != nil {
			failures = append(failures, unitFailure(chunk.ID, cerr))
		}
	}
	return failures
}

// EmbedQuery embeds query text with the policy's text model. Unlike chunk
// embedding there is no partial path: a query that cannot be embedded is a
// hard error.
func (b *Batcher) EmbedQuery(ctx context.Context, policy models.EmbeddingPolicy, query string) ([]float32, error) {
	return b.EmbedQueryModel(ctx, policy.ModelFor(models.ContentTypeText), query)
}

// EmbedQueryModel embeds query text with a specific model. Retrieval embeds
// the query once per model named by the knowledge base's policy so each
// collection is searched in its own vector space.
func (b *Batcher) EmbedQueryModel(ctx context.Context, model, query string) ([]float32, error) {
	embedder, err := b.registry.ForModel(model)
	if err != nil {
		return nil, err
	}
	var vec []float32
	err = b.do(ctx, func() error {
		var qerr error
		vec, qerr = embedder.Embed(ctx, query)
		return qerr
	})
	if err != nil {
		if !errors.Is(err, models.ErrEmbedding) {
			err = fmt.Errorf("%w: %v", models.ErrEmbedding, err)
		}
		return nil, err
	}
	return vec, nil
}

// do retries transient embedding errors with backoff. Anything not carrying
// the embedding taxonomy error surfaces immediately.
func (b *Batcher) do(ctx context.Context, fn func() error) error {
	var permanent error
	err := utils.Retry(ctx, b.retry, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrEmbedding) {
			return err
		}
		permanent = err
		return nil
	})
	if permanent != nil {
		return permanent
	}
	return err
}

func unitFailure(unitID string, err error) models.UnitFailure {
	if !errors.Is(err, models.ErrEmbedding) {
		err = fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	return models.UnitFailure{
		UnitID:  unitID,
		Kind:    models.KindForError(err),
		Message: err.Error(),
	}
}
