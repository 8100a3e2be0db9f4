package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/pkg/utils"
)

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint. Requests are
// rate-limited and responses cached by text, so re-ingesting unchanged
// documents does not re-bill the same content.
type HTTPEmbedder struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	httpc      *http.Client
	limiter    *rate.Limiter
	cache      *Cache
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEmbedder) { e.httpc = c }
}

// WithRateLimit caps request throughput. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(e *HTTPEmbedder) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCacheSize sets the embedding cache capacity.
func WithCacheSize(n int) HTTPOption {
	return func(e *HTTPEmbedder) { e.cache = NewCache(n) }
}

// NewHTTPEmbedder creates an embedder for an OpenAI-compatible endpoint.
func NewHTTPEmbedder(endpoint, apiKey, model string, dimensions int, opts ...HTTPOption) (*HTTPEmbedder, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("http embedder requires an endpoint")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("http embedder requires positive dimensions")
	}
	e := &HTTPEmbedder{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpc:      &http.Client{Timeout: 60 * time.Second},
		cache:      NewCache(2048),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request. Cached texts are served locally;
// only misses go over the wire. Failures carry the embedding taxonomy error
// so callers can classify and retry.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var misses []string
	var missIdx []int
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			out[i] = cached
			continue
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vectors, err := e.request(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		utils.NormalizeL2(vec)
		e.cache.Set(misses[j], vec)
		out[missIdx[j]] = vec
	}
	return out, nil
}

func (e *HTTPEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", models.ErrEmbedding, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", models.ErrEmbedding, err)
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response (status %d): %v", models.ErrEmbedding, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrEmbedding, resp.StatusCode, utils.Truncate(msg, 200))
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", models.ErrEmbedding, len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", models.ErrEmbedding, d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: expected %d dimensions, got %d", models.ErrEmbedding, e.dimensions, len(d.Embedding))
		}
		vectors[d.Index] = d.Embedding
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", models.ErrEmbedding, i)
		}
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client has no resources to release.
func (e *HTTPEmbedder) Close() error {
	return nil
}
