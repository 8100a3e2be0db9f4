// Package config provides configuration loading and structs for the Chie server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/chie/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Segment   SegmentConfig   `yaml:"segment"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Media     MediaConfig     `yaml:"media"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the metadata database and local indices.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
	VectorDataDir  string `yaml:"vector_data_dir"`
}

// EmbeddingConfig holds embedder settings. Provider selects the
// implementation: "onnx" runs a local model, "http" calls an
// OpenAI-compatible endpoint, "mock" is deterministic for tests.
type EmbeddingConfig struct {
	Provider        string            `yaml:"provider"`
	ModelPath       string            `yaml:"model_path"`
	Endpoint        string            `yaml:"endpoint"`
	APIKey          string            `yaml:"api_key"`
	Models          map[string]string `yaml:"models"` // content type -> model reference
	Dimensions      int               `yaml:"dimensions"`
	MaxTokens       int               `yaml:"max_tokens"`
	UseQuantization bool              `yaml:"use_quantization"`
	CacheSize       int               `yaml:"cache_size"`
	BatchSize       int               `yaml:"batch_size"`
	MaxRetries      int               `yaml:"max_retries"`
	RatePerSecond   float64           `yaml:"rate_per_second"` // 0 disables rate limiting
	RateBurst       int               `yaml:"rate_burst"`
}

// StoreConfig is the default vector-store backend for new knowledge bases.
// A knowledge base may override it at creation time.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory", "bolt", "qdrant"
	Address string `yaml:"address"` // qdrant gRPC address
	Metric  string `yaml:"metric"`  // "cosine" or "dot"
}

// SegmentConfig holds default chunk sizing. Sizes are approximate tokens.
type SegmentConfig struct {
	TargetSize        int `yaml:"target_size"`
	Overlap           int `yaml:"overlap"`
	MinSize           int `yaml:"min_size"`
	ChatGapSeconds    int `yaml:"chat_gap_seconds"`
	ChatTurnsPerGroup int `yaml:"chat_turns_per_group"`
}

// RetrievalConfig holds retrieval and fusion settings.
type RetrievalConfig struct {
	DefaultTopK       int     `yaml:"default_top_k"`
	MaxTopK           int     `yaml:"max_top_k"`
	HybridEnabled     bool    `yaml:"hybrid_enabled"`
	SemanticWeight    float64 `yaml:"semantic_weight"`
	LexicalWeight     float64 `yaml:"lexical_weight"`
	CandidateMultiple int     `yaml:"candidate_multiple"` // over-fetch factor before fusion
	Normalization     string  `yaml:"normalization"`      // "minmax" (default) or "max"
	SubQueryTimeoutMs int     `yaml:"sub_query_timeout_ms"`
	DefaultThreshold  float64 `yaml:"default_threshold"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	Workers        int `yaml:"workers"`
	QueueSize      int `yaml:"queue_size"`
	EmbedBatchSize int `yaml:"embed_batch_size"`
	MaxUnitRetries int `yaml:"max_unit_retries"`
	StoreRetries   int `yaml:"store_retries"`
}

// MediaConfig points at external services that turn non-text media into
// text. Empty endpoints disable the corresponding modality.
type MediaConfig struct {
	OCREndpoint        string `yaml:"ocr_endpoint"`
	CaptionEndpoint    string `yaml:"caption_endpoint"`
	TranscribeEndpoint string `yaml:"transcribe_endpoint"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

// WatchConfig holds drop-directory ingestion settings.
type WatchConfig struct {
	Directories   []string `yaml:"directories"`
	Extensions    []string `yaml:"extensions"`
	KnowledgeBase string   `yaml:"knowledge_base"` // target for watched files
	Recursive     *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// SegmentPolicy converts the configured defaults to a models.SegmentPolicy.
func (s SegmentConfig) SegmentPolicy() models.SegmentPolicy {
	return models.SegmentPolicy{TargetSize: s.TargetSize, Overlap: s.Overlap, MinSize: s.MinSize}
}

// EmbeddingPolicy converts the configured model map to a models.EmbeddingPolicy.
func (e EmbeddingConfig) EmbeddingPolicy() models.EmbeddingPolicy {
	p := models.EmbeddingPolicy{Models: map[models.ContentType]string{}}
	for ct, ref := range e.Models {
		p.Models[models.ContentType(ct)] = ref
	}
	return p
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorDataDir = expandPath(cfg.Storage.VectorDataDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
