package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/hyperjump/chie/internal/config"
	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/pkg/utils"
)

func testRetry() utils.RetryOpts {
	return utils.RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

func TestMockEmbedder_deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder("text-model", 64)

	a, err := e.Embed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 {
		t.Fatalf("dimensions: got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text must embed identically")
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("embedding not unit length: %f", norm)
	}

	other, _ := NewMockEmbedder("caption-model", 64).Embed(ctx, "hello world")
	same := true
	for i := range a {
		if a[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different models should embed the same text differently")
	}
}

func TestRegistry_lazyAndCached(t *testing.T) {
	created := 0
	r := NewRegistry(func(model string) (Embedder, error) {
		created++
		return NewMockEmbedder(model, 8), nil
	}, nil)
	defer r.Close()

	e1, err := r.ForModel("m1")
	if err != nil {
		t.Fatal(err)
	}
	e2, err := r.ForModel("m1")
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Error("same model must reuse the embedder")
	}
	if _, err := r.ForModel("m2"); err != nil {
		t.Fatal(err)
	}
	if created != 2 {
		t.Errorf("factory calls: got %d, want 2", created)
	}
	if _, err := r.ForModel(""); err == nil {
		t.Error("empty model reference must fail")
	}
}

func TestRegistry_contentTypeFallsBackToText(t *testing.T) {
	r := NewRegistry(func(model string) (Embedder, error) {
		return NewMockEmbedder(model, 8), nil
	}, nil)
	defer r.Close()

	policy := models.EmbeddingPolicy{Models: map[models.ContentType]string{
		models.ContentTypeText:         "text-model",
		models.ContentTypeImageCaption: "caption-model",
	}}

	caption, err := r.ForContentType(policy, models.ContentTypeImageCaption)
	if err != nil {
		t.Fatal(err)
	}
	text, err := r.ForContentType(policy, models.ContentTypeText)
	if err != nil {
		t.Fatal(err)
	}
	if caption == text {
		t.Error("image captions should use their dedicated model")
	}
	audio, err := r.ForContentType(policy, models.ContentTypeAudioTranscript)
	if err != nil {
		t.Fatal(err)
	}
	if audio != text {
		t.Error("unmapped content types must fall back to the text model")
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	if _, err := NewRegistryFromConfig(config.EmbeddingConfig{Provider: "mock", Dimensions: 8}, nil); err != nil {
		t.Errorf("mock provider: %v", err)
	}
	if _, err := NewRegistryFromConfig(config.EmbeddingConfig{Provider: "http"}, nil); err == nil {
		t.Error("http provider without endpoint must fail")
	}
	if _, err := NewRegistryFromConfig(config.EmbeddingConfig{Provider: "onnx"}, nil); err == nil {
		t.Error("onnx provider without model_path must fail")
	}
	if _, err := NewRegistryFromConfig(config.EmbeddingConfig{Provider: "word2vec"}, nil); err == nil {
		t.Error("unknown provider must fail")
	}
}

// poisonEmbedder fails any batch or text containing the poison marker.
type poisonEmbedder struct {
	*MockEmbedder
	poison string
}

func (e *poisonEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.poison != "" && text == e.poison {
		return nil, fmt.Errorf("%w: refused input", models.ErrEmbedding)
	}
	return e.MockEmbedder.Embed(ctx, text)
}

func (e *poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if e.poison != "" && text == e.poison {
			return nil, fmt.Errorf("%w: refused input in batch", models.ErrEmbedding)
		}
	}
	return e.MockEmbedder.EmbedBatch(ctx, texts)
}

func testChunks(n int) []*models.Chunk {
	chunks := make([]*models.Chunk, n)
	for i := range chunks {
		chunks[i] = &models.Chunk{
			ID:          fmt.Sprintf("doc_%04d", i),
			ContentType: models.ContentTypeText,
			Ordinal:     i,
			Content:     fmt.Sprintf("paragraph number %d", i),
		}
	}
	return chunks
}

func TestBatcher_embedsAllChunks(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(func(model string) (Embedder, error) {
		return NewMockEmbedder(model, 8), nil
	}, nil)
	defer r.Close()

	b := NewBatcher(r, 4, WithBatchRetry(testRetry()))
	policy := models.EmbeddingPolicy{Models: map[models.ContentType]string{models.ContentTypeText: "m"}}
	chunks := testChunks(10)

	failures := b.EmbedChunks(ctx, policy, chunks)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	for _, c := range chunks {
		if len(c.Embedding) != 8 {
			t.Fatalf("chunk %s not embedded", c.ID)
		}
	}
}

func TestBatcher_isolatesPoisonedChunk(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(func(model string) (Embedder, error) {
		return &poisonEmbedder{MockEmbedder: NewMockEmbedder(model, 8), poison: "paragraph number 3"}, nil
	}, nil)
	defer r.Close()

	b := NewBatcher(r, 4, WithBatchRetry(testRetry()))
	policy := models.EmbeddingPolicy{Models: map[models.ContentType]string{models.ContentTypeText: "m"}}
	chunks := testChunks(10)

	failures := b.EmbedChunks(ctx, policy, chunks)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %+v", failures)
	}
	if failures[0].UnitID != "doc_0003" || failures[0].Kind != models.FailureEmbedding {
		t.Errorf("failure: %+v", failures[0])
	}
	for _, c := range chunks {
		if c.ID == "doc_0003" {
			if c.Embedding != nil {
				t.Error("failed chunk must keep a nil embedding")
			}
			continue
		}
		if len(c.Embedding) != 8 {
			t.Errorf("batch sibling %s must still be embedded", c.ID)
		}
	}
}

func TestBatcher_groupsByContentTypeModel(t *testing.T) {
	ctx := context.Background()
	seen := map[string]bool{}
	r := NewRegistry(func(model string) (Embedder, error) {
		seen[model] = true
		return NewMockEmbedder(model, 8), nil
	}, nil)
	defer r.Close()

	b := NewBatcher(r, 4, WithBatchRetry(testRetry()))
	policy := models.EmbeddingPolicy{Models: map[models.ContentType]string{
		models.ContentTypeText:         "text-model",
		models.ContentTypeImageCaption: "caption-model",
	}}
	chunks := []*models.Chunk{
		{ID: "c1", ContentType: models.ContentTypeText, Content: "plain"},
		{ID: "c2", ContentType: models.ContentTypeImageCaption, Content: "a cat"},
		{ID: "c3", ContentType: models.ContentTypeAudioTranscript, Content: "spoken"},
	}
	if failures := b.EmbedChunks(ctx, policy, chunks); len(failures) != 0 {
		t.Fatalf("failures: %+v", failures)
	}
	if !seen["text-model"] || !seen["caption-model"] {
		t.Errorf("models used: %v", seen)
	}
	if len(seen) != 2 {
		t.Errorf("audio should fall back to the text model, got %v", seen)
	}
}

func TestBatcher_queryEmbedFailureIsHard(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(func(model string) (Embedder, error) {
		return &poisonEmbedder{MockEmbedder: NewMockEmbedder(model, 8), poison: "bad query"}, nil
	}, nil)
	defer r.Close()

	b := NewBatcher(r, 4, WithBatchRetry(testRetry()))
	policy := models.EmbeddingPolicy{Models: map[models.ContentType]string{models.ContentTypeText: "m"}}

	if _, err := b.EmbedQuery(ctx, policy, "fine query"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	_, err := b.EmbedQuery(ctx, policy, "bad query")
	if err == nil {
		t.Fatal("expected hard error")
	}
	if !errors.Is(err, models.ErrEmbedding) {
		t.Errorf("error not classified: %v", err)
	}
}
