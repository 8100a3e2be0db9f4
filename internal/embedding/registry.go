package embedding

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/config"
	"github.com/hyperjump/chie/internal/models"
)

// Registry holds one Embedder per model reference, created lazily on first
// use. A knowledge base's embedding policy names models per content type;
// the registry resolves those names to live embedders.
type Registry struct {
	mu        sync.Mutex
	embedders map[string]Embedder
	factory   func(model string) (Embedder, error)
	logger    *zap.Logger
}

// NewRegistry creates a registry with a custom embedder factory.
func NewRegistry(factory func(model string) (Embedder, error), logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		embedders: make(map[string]Embedder),
		factory:   factory,
		logger:    logger,
	}
}

// NewRegistryFromConfig builds a registry whose factory matches the
// configured provider: "mock", "onnx", or "http".
func NewRegistryFromConfig(cfg config.EmbeddingConfig, logger *zap.Logger) (*Registry, error) {
	var factory func(model string) (Embedder, error)
	switch cfg.Provider {
	case "mock", "":
		factory = func(model string) (Embedder, error) {
			return NewMockEmbedder(model, cfg.Dimensions), nil
		}
	case "onnx":
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("onnx provider requires model_path")
		}
		factory = func(model string) (Embedder, error) {
			e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
			if err != nil {
				return nil, err
			}
			return e, nil
		}
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http provider requires endpoint")
		}
		factory = func(model string) (Embedder, error) {
			e, err := NewHTTPEmbedder(cfg.Endpoint, cfg.APIKey, model, cfg.Dimensions,
				WithRateLimit(cfg.RatePerSecond, cfg.RateBurst),
				WithCacheSize(cfg.CacheSize))
			if err != nil {
				return nil, err
			}
			return e, nil
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, onnx, http)", cfg.Provider)
	}
	return NewRegistry(factory, logger), nil
}

// ForModel returns the embedder for a model reference, creating it on first
// use.
func (r *Registry) ForModel(model string) (Embedder, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: empty model reference", models.ErrEmbedding)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.embedders[model]; ok {
		return e, nil
	}
	e, err := r.factory(model)
	if err != nil {
		return nil, fmt.Errorf("create embedder for model %q: %w", model, err)
	}
	r.embedders[model] = e
	r.logger.Debug("embedder created", zap.String("model", model), zap.Int("dimensions", e.Dimensions()))
	return e, nil
}

// ForContentType resolves the policy's model for a content type and returns
// its embedder.
func (r *Registry) ForContentType(policy models.EmbeddingPolicy, ct models.ContentType) (Embedder, error) {
	return r.ForModel(policy.ModelFor(ct))
}

// Close releases every embedder.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for model, e := range r.embedders {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder %q: %w", model, err))
		}
		delete(r.embedders, model)
	}
	return errors.Join(errs...)
}
