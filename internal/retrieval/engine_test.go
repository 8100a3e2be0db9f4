package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/chie/internal/config"
	"github.com/hyperjump/chie/internal/embedding"
	"github.com/hyperjump/chie/internal/keyword"
	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/internal/storage"
	"github.com/hyperjump/chie/internal/vectorstore"
	"github.com/hyperjump/chie/pkg/utils"
)

const testModel = "test-model"

type testEnv struct {
	storage *storage.SQLiteStorage
	router  *vectorstore.Router
	keyword *keyword.BleveIndex
	batcher *embedding.Batcher
	engine  *Engine
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		DefaultTopK:       10,
		MaxTopK:           100,
		SemanticWeight:    0.7,
		LexicalWeight:     0.3,
		CandidateMultiple: 3,
	}
}

func newTestEnv(t *testing.T, cfg config.RetrievalConfig, opts ...EngineOption) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "chie.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "chunks.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kw.Close() })

	router := vectorstore.NewRouter(dir,
		vectorstore.WithRetryOpts(utils.RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}))
	t.Cleanup(func() { router.Close() })

	registry := embedding.NewRegistry(func(model string) (embedding.Embedder, error) {
		return embedding.NewMockEmbedder(model, 16), nil
	}, nil)
	t.Cleanup(func() { registry.Close() })
	batcher := embedding.NewBatcher(registry, 8)

	env := &testEnv{
		storage: store,
		router:  router,
		keyword: kw,
		batcher: batcher,
	}
	env.engine = NewEngine(store, router, kw, batcher, cfg, opts...)
	return env
}

func (env *testEnv) createKB(t *testing.T, id string) *models.KnowledgeBase {
	t.Helper()
	kb := &models.KnowledgeBase{
		ID:   id,
		Name: id,
		Embedding: models.EmbeddingPolicy{Models: map[models.ContentType]string{
			models.ContentTypeText: testModel,
		}},
		Store:   models.StoreConfig{Backend: "memory", Dimensions: 16},
		Segment: models.SegmentPolicy{TargetSize: 300, Overlap: 50, MinSize: 20},
	}
	if err := env.storage.CreateKnowledgeBase(context.Background(), kb); err != nil {
		t.Fatal(err)
	}
	return kb
}

// seedChunks pushes chunks through storage, the keyword index, and the
// vector store, the way a completed ingestion leaves them.
func (env *testEnv) seedChunks(t *testing.T, kb *models.KnowledgeBase, docID string, contents []string) {
	t.Helper()
	ctx := context.Background()

	doc := &models.Document{ID: docID, KnowledgeBaseID: kb.ID, SourceType: models.SourceUpload, Status: models.StatusCompleted}
	if err := env.storage.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	chunks := make([]*models.Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = &models.Chunk{
			ID:              fmt.Sprintf("%s_%04d", docID, i),
			DocumentID:      docID,
			KnowledgeBaseID: kb.ID,
			Ordinal:         i,
			ContentType:     models.ContentTypeText,
			Content:         content,
		}
	}
	if failures := env.batcher.EmbedChunks(ctx, kb.Embedding, chunks); len(failures) != 0 {
		t.Fatalf("seed embedding failures: %+v", failures)
	}
	if err := env.storage.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	if err := env.keyword.IndexChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	collection := vectorstore.CollectionName(kb.ID, testModel)
	if err := env.router.AddCollection(ctx, collection, kb.Store, 16); err != nil {
		t.Fatal(err)
	}
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Vector:     c.Embedding,
			Payload:    map[string]string{"content_type": string(c.ContentType)},
		}
	}
	if err := env.router.Upsert(ctx, collection, records); err != nil {
		t.Fatal(err)
	}
}

func TestRetrieve_semanticRanking(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())
	kb := env.createKB(t, "kb1")
	env.seedChunks(t, kb, "d1", []string{
		"postgres replication setup",
		"redis cache eviction policy",
		"kafka consumer group rebalancing",
	})

	// The mock embedder maps identical text to identical vectors, so the
	// matching chunk scores highest.
	resp, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{
		KnowledgeBaseID: "kb1",
		Query:           "redis cache eviction policy",
		TopK:            2,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results: %d", len(resp.Results))
	}
	top := resp.Results[0]
	if top.ChunkID != "d1_0001" {
		t.Errorf("top result: %+v", top)
	}
	if top.Rank != 1 || resp.Results[1].Rank != 2 {
		t.Errorf("ranks: %d %d", top.Rank, resp.Results[1].Rank)
	}
	if top.SemanticScore != 1 {
		t.Errorf("normalized top semantic score: %f", top.SemanticScore)
	}
	if top.Content != "redis cache eviction policy" {
		t.Errorf("content not materialized: %q", top.Content)
	}
	if resp.Partial {
		t.Error("no sub-query timed out")
	}
}

func TestRetrieve_hybridUsesLexicalScores(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())
	kb := env.createKB(t, "kb1")
	env.seedChunks(t, kb, "d1", []string{
		"grafana dashboard provisioning",
		"prometheus alert rules",
	})

	resp, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{
		KnowledgeBaseID: "kb1",
		Query:           "prometheus alert rules",
		Hybrid:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	top := resp.Results[0]
	if top.ChunkID != "d1_0001" {
		t.Errorf("top result: %+v", top)
	}
	if top.LexicalScore == 0 {
		t.Error("lexical score missing in hybrid mode")
	}
	want := 0.7*top.SemanticScore + 0.3*top.LexicalScore
	if diff := top.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fused score %f, want %f", top.Score, want)
	}
}

func TestRetrieve_emptyKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())
	env.createKB(t, "kb1")

	resp, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{
		KnowledgeBaseID: "kb1",
		Query:           "anything at all",
	})
	if err != nil {
		t.Fatalf("empty knowledge base must not error: %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("results: %+v", resp.Results)
	}
}

func TestRetrieve_unknownKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())

	_, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{KnowledgeBaseID: "nope", Query: "x"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestRetrieve_thresholdDropsWeakHits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())
	kb := env.createKB(t, "kb1")
	env.seedChunks(t, kb, "d1", []string{
		"terraform state locking",
		"ansible playbook variables",
		"helm chart templating",
	})

	resp, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{
		KnowledgeBaseID: "kb1",
		Query:           "terraform state locking",
		ScoreThreshold:  0.99,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("threshold should keep only the top hit: %+v", resp.Results)
	}
	if resp.Results[0].ChunkID != "d1_0000" {
		t.Errorf("kept result: %+v", resp.Results[0])
	}
}

func TestRetrieve_tieBreaksByOrdinal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())
	kb := env.createKB(t, "kb1")
	// Identical content embeds identically, so the two chunks tie.
	env.seedChunks(t, kb, "d1", []string{
		"identical paragraph",
		"identical paragraph",
	})

	resp, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{
		KnowledgeBaseID: "kb1",
		Query:           "identical paragraph",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results: %d", len(resp.Results))
	}
	if resp.Results[0].Ordinal != 0 || resp.Results[1].Ordinal != 1 {
		t.Errorf("tie-break order: %+v", resp.Results)
	}
}

func TestRetrieve_documentFilter(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())
	kb := env.createKB(t, "kb1")
	env.seedChunks(t, kb, "d1", []string{"shared troubleshooting guide"})
	env.seedChunks(t, kb, "d2", []string{"shared troubleshooting guide"})

	resp, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{
		KnowledgeBaseID: "kb1",
		Query:           "shared troubleshooting guide",
		Filters:         map[string]interface{}{"document_id": "d2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocumentID != "d2" {
		t.Errorf("filtered results: %+v", resp.Results)
	}
}

// stallingIndex blocks lexical searches until the sub-query deadline hits.
type stallingIndex struct {
	keyword.Index
}

func (s *stallingIndex) Search(ctx context.Context, kbID, query string, limit int, opts *keyword.SearchOptions) ([]*keyword.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRetrieve_timedOutSubQueryIsExcluded(t *testing.T) {
	ctx := context.Background()
	cfg := testRetrievalConfig()
	cfg.SubQueryTimeoutMs = 20
	env := newTestEnv(t, cfg)
	kb := env.createKB(t, "kb1")
	env.seedChunks(t, kb, "d1", []string{"service mesh sidecar injection"})

	env.engine.keyword = &stallingIndex{Index: env.keyword}

	resp, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{
		KnowledgeBaseID: "kb1",
		Query:           "service mesh sidecar injection",
		Hybrid:          true,
	})
	if err != nil {
		t.Fatalf("timed-out sub-query must not fail the query: %v", err)
	}
	if !resp.Partial {
		t.Error("response should be marked partial")
	}
	found := false
	for _, name := range resp.ExcludedCollections {
		if name == "lexical" {
			found = true
		}
	}
	if !found {
		t.Errorf("excluded collections: %v", resp.ExcludedCollections)
	}
	if len(resp.Results) == 0 {
		t.Error("semantic results should survive a lexical timeout")
	}
}

// failingEmbedder rejects one exact text.
type failingEmbedder struct {
	*embedding.MockEmbedder
	reject string
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == f.reject {
		return nil, fmt.Errorf("%w: model rejected input", models.ErrEmbedding)
	}
	return f.MockEmbedder.Embed(ctx, text)
}

func TestRetrieve_queryEmbedFailureIsHard(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())
	kb := env.createKB(t, "kb1")
	env.seedChunks(t, kb, "d1", []string{"some indexed text"})

	registry := embedding.NewRegistry(func(model string) (embedding.Embedder, error) {
		return &failingEmbedder{MockEmbedder: embedding.NewMockEmbedder(model, 16), reject: "poison"}, nil
	}, nil)
	t.Cleanup(func() { registry.Close() })
	env.engine.batcher = embedding.NewBatcher(registry, 8,
		embedding.WithBatchRetry(utils.RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}))

	_, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{KnowledgeBaseID: "kb1", Query: "poison"})
	if err == nil {
		t.Fatal("expected hard error")
	}
	if !errors.Is(err, models.ErrEmbedding) {
		t.Errorf("error classification: %v", err)
	}
}

func TestRetrieve_suggestionOnEmptyResults(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testRetrievalConfig())
	kb := env.createKB(t, "kb1")
	env.seedChunks(t, kb, "d1", []string{"kubernetes operator patterns"})

	sc := keyword.NewSpellChecker(env.keyword)
	env.engine.spell = sc

	resp, err := env.engine.Retrieve(ctx, &models.RetrievalQuery{
		KnowledgeBaseID: "kb1",
		Query:           "kubernetse",
		ScoreThreshold:  0.999,
		Hybrid:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("threshold should drop everything: %+v", resp.Results)
	}
	if resp.Suggestion == "" {
		t.Error("expected a spelling suggestion")
	}
}
