package vectorstore

import (
	"fmt"
	"path/filepath"

	"github.com/hyperjump/chie/internal/models"
)

// BackendType represents the type of vector-store backend.
type BackendType string

const (
	// BackendTypeMemory is process-embedded brute-force search. Good for
	// tests and small knowledge bases.
	BackendTypeMemory BackendType = "memory"
	// BackendTypeBolt is a local disk-backed store on bbolt.
	BackendTypeBolt BackendType = "bolt"
	// BackendTypeQdrant is a remote qdrant instance over gRPC.
	BackendTypeQdrant BackendType = "qdrant"
)

// NewBackend creates a backend from a knowledge base's store configuration.
// dataDir is the directory for local disk-backed files; cfg.Path overrides
// it when set. Supported backends: "memory" (default), "bolt", "qdrant".
func NewBackend(cfg models.StoreConfig, dataDir string) (Backend, error) {
	switch BackendType(cfg.Backend) {
	case BackendTypeMemory, "":
		return NewMemoryBackend(), nil
	case BackendTypeBolt:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, "vectors.bolt")
		}
		return NewBoltBackend(path)
	case BackendTypeQdrant:
		if cfg.Address == "" {
			return nil, fmt.Errorf("qdrant backend requires an address")
		}
		return NewQdrantBackend(cfg.Address)
	default:
		return nil, fmt.Errorf("unknown backend type: %s (supported: memory, bolt, qdrant)", cfg.Backend)
	}
}

// MetricFromConfig maps a config metric string to a Metric, defaulting to
// cosine.
func MetricFromConfig(s string) Metric {
	if Metric(s) == MetricDot {
		return MetricDot
	}
	return MetricCosine
}
