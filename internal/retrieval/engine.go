package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/chie/internal/config"
	"github.com/hyperjump/chie/internal/embedding"
	"github.com/hyperjump/chie/internal/keyword"
	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/internal/storage"
	"github.com/hyperjump/chie/internal/vectorstore"
)

// lexicalName labels the lexical sub-query in the excluded list.
const lexicalName = "lexical"

// Engine answers retrieval queries against one knowledge base at a time.
type Engine struct {
	storage storage.Storage
	router  *vectorstore.Router
	keyword keyword.Index
	batcher *embedding.Batcher
	spell   *keyword.SpellChecker
	cfg     config.RetrievalConfig
	logger  *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSpellChecker attaches query suggestions for empty result sets.
func WithSpellChecker(sc *keyword.SpellChecker) EngineOption {
	return func(e *Engine) { e.spell = sc }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a retrieval engine.
func NewEngine(store storage.Storage, router *vectorstore.Router, kw keyword.Index, batcher *embedding.Batcher, cfg config.RetrievalConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		storage: store,
		router:  router,
		keyword: kw,
		batcher: batcher,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve runs hybrid retrieval. Sub-queries that miss their deadline are
// excluded from fusion and reported; everything else fuses into one ranked
// list. An empty knowledge base yields an empty result set, not an error.
func (e *Engine) Retrieve(ctx context.Context, q *models.RetrievalQuery) (*models.RetrievalResponse, error) {
	start := time.Now()

	if q.TopK <= 0 && e.cfg.DefaultTopK > 0 {
		q.TopK = e.cfg.DefaultTopK
	}
	if q.ScoreThreshold == 0 {
		q.ScoreThreshold = e.cfg.DefaultThreshold
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if e.cfg.MaxTopK > 0 && q.TopK > e.cfg.MaxTopK {
		q.TopK = e.cfg.MaxTopK
	}

	kb, err := e.storage.GetKnowledgeBase(ctx, q.KnowledgeBaseID)
	if err != nil {
		return nil, err
	}

	hybrid := q.Hybrid || e.cfg.HybridEnabled
	candidateLimit := q.TopK * e.candidateMultiple()

	queryVectors, err := e.embedQueryVectors(ctx, kb, q.Query)
	if err != nil {
		return nil, err
	}

	var (
		mu         sync.Mutex
		candidates = make(map[string]*candidate)
		semantic   = make(map[string]float64)
		lexical    = make(map[string]float64)
		excluded   []string
	)
	vecFilters, kwOpts := splitFilters(q.Filters)

	g, gctx := errgroup.WithContext(ctx)
	for model, vector := range queryVectors {
		collection := vectorstore.CollectionName(kb.ID, model)
		if _, err := e.router.Dimensions(collection); err != nil {
			// No data ever ingested for this model.
			continue
		}
		vector := vector
		g.Go(func() error {
			subCtx, cancel := e.subQueryContext(gctx)
			defer cancel()
			results, err := e.router.Search(subCtx, collection, vector, candidateLimit, vecFilters)
			if err != nil {
				if isTimeout(err) {
					mu.Lock()
					excluded = append(excluded, collection)
					mu.Unlock()
					e.logger.Warn("semantic sub-query timed out",
						zap.String("collection", collection),
						zap.Error(fmt.Errorf("%w: %v", models.ErrQueryTimeout, err)))
					return nil
				}
				return fmt.Errorf("semantic search in %s: %w", collection, err)
			}
			mu.Lock()
			for _, r := range results {
				if prev, ok := semantic[r.ChunkID]; !ok || r.Score > prev {
					semantic[r.ChunkID] = r.Score
				}
				if _, ok := candidates[r.ChunkID]; !ok {
					candidates[r.ChunkID] = &candidate{
						ChunkID:    r.ChunkID,
						DocumentID: r.DocumentID,
						Ordinal:    r.Ordinal,
						hasOrdinal: true,
					}
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if hybrid {
		g.Go(func() error {
			subCtx, cancel := e.subQueryContext(gctx)
			defer cancel()
			results, err := e.keyword.Search(subCtx, kb.ID, q.Query, candidateLimit, kwOpts)
			if err != nil {
				if isTimeout(err) {
					mu.Lock()
					excluded = append(excluded, lexicalName)
					mu.Unlock()
					e.logger.Warn("lexical sub-query timed out", zap.Error(err))
					return nil
				}
				return fmt.Errorf("lexical search: %w", err)
			}
			mu.Lock()
			for _, r := range results {
				lexical[r.ChunkID] = r.Score
				if _, ok := candidates[r.ChunkID]; !ok {
					candidates[r.ChunkID] = &candidate{ChunkID: r.ChunkID, DocumentID: r.DocumentID}
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	semanticWeight, lexicalWeight := e.weights(hybrid)
	fused := fuse(candidates,
		normalize(semantic, e.cfg.Normalization),
		normalize(lexical, e.cfg.Normalization),
		semanticWeight, lexicalWeight)

	kept := fused[:0]
	for _, c := range fused {
		if c.Score >= q.ScoreThreshold {
			kept = append(kept, c)
		}
	}

	results, err := e.materialize(ctx, kept, q.TopK)
	if err != nil {
		return nil, err
	}

	sort.Strings(excluded)
	resp := &models.RetrievalResponse{
		Results:             results,
		Query:               q.Query,
		QueryTime:           time.Since(start).Milliseconds(),
		Partial:             len(excluded) > 0,
		ExcludedCollections: excluded,
	}
	if len(results) == 0 && e.spell != nil {
		if corrected, ok := e.spell.SuggestQuery(q.Query); ok {
			resp.Suggestion = corrected
		}
	}
	return resp, nil
}

// embedQueryVectors embeds the query once per model the policy names. Any
// embedding failure fails the whole query.
func (e *Engine) embedQueryVectors(ctx context.Context, kb *models.KnowledgeBase, query string) (map[string][]float32, error) {
	vectors := make(map[string][]float32)
	for _, model := range kb.Embedding.Models {
		if model == "" {
			continue
		}
		if _, ok := vectors[model]; ok {
			continue
		}
		vec, err := e.batcher.EmbedQueryModel(ctx, model, query)
		if err != nil {
			return nil, fmt.Errorf("embed query with model %s: %w", model, err)
		}
		vectors[model] = vec
	}
	return vectors, nil
}

// materialize loads chunk rows for the surviving candidates, completes
// ordinals for lexical-only hits, sorts, and truncates to topK.
func (e *Engine) materialize(ctx context.Context, kept []*candidate, topK int) ([]*models.RetrievalResult, error) {
	ids := make([]string, 0, len(kept))
	for _, c := range kept {
		ids = append(ids, c.ChunkID)
	}
	chunks, err := e.storage.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]*models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	complete := kept[:0]
	for _, c := range kept {
		chunk, ok := byID[c.ChunkID]
		if !ok {
			// Index entry ahead of (or orphaned from) metadata; skip.
			continue
		}
		if !c.hasOrdinal {
			c.Ordinal = chunk.Ordinal
		}
		if c.DocumentID == "" {
			c.DocumentID = chunk.DocumentID
		}
		complete = append(complete, c)
	}
	sortCandidates(complete)
	if len(complete) > topK {
		complete = complete[:topK]
	}

	results := make([]*models.RetrievalResult, 0, len(complete))
	for i, c := range complete {
		chunk := byID[c.ChunkID]
		results = append(results, &models.RetrievalResult{
			ChunkID:       c.ChunkID,
			DocumentID:    c.DocumentID,
			Ordinal:       c.Ordinal,
			ContentType:   chunk.ContentType,
			Content:       chunk.Content,
			SemanticScore: c.Semantic,
			LexicalScore:  c.Lexical,
			Score:         c.Score,
			Rank:          i + 1,
			Meta:          chunk.Meta,
		})
	}
	return results, nil
}

func (e *Engine) candidateMultiple() int {
	if e.cfg.CandidateMultiple > 0 {
		return e.cfg.CandidateMultiple
	}
	return 3
}

func (e *Engine) weights(hybrid bool) (semanticWeight, lexicalWeight float64) {
	if !hybrid {
		return 1, 0
	}
	semanticWeight = e.cfg.SemanticWeight
	lexicalWeight = e.cfg.LexicalWeight
	if semanticWeight <= 0 && lexicalWeight <= 0 {
		return 0.7, 0.3
	}
	return semanticWeight, lexicalWeight
}

func (e *Engine) subQueryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.SubQueryTimeoutMs > 0 {
		return context.WithTimeout(ctx, time.Duration(e.cfg.SubQueryTimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrQueryTimeout)
}

// splitFilters maps request filters onto vector payload filters and lexical
// search options. Unknown keys are ignored.
func splitFilters(filters map[string]interface{}) (map[string]string, *keyword.SearchOptions) {
	if len(filters) == 0 {
		return nil, nil
	}
	vec := make(map[string]string)
	opts := &keyword.SearchOptions{}
	for key, value := range filters {
		s, ok := value.(string)
		if !ok {
			continue
		}
		switch key {
		case "document_id":
			vec[key] = s
			opts.DocumentID = s
		case "content_type":
			vec[key] = s
			opts.ContentType = models.ContentType(s)
		case "speaker":
			vec[key] = s
		case "fuzzy":
			if s == "true" {
				opts.FuzzyEnabled = true
			}
		}
	}
	if len(vec) == 0 {
		vec = nil
	}
	return vec, opts
}
