package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/chie/data/db/chie.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/chie/data/indices/bleve"
	}
	if cfg.Storage.VectorDataDir == "" {
		cfg.Storage.VectorDataDir = "/usr/local/var/chie/data/vectors"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Models == nil {
		cfg.Embedding.Models = map[string]string{"text": "all-MiniLM-L6-v2"}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.RateBurst == 0 {
		cfg.Embedding.RateBurst = 8
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Metric == "" {
		cfg.Store.Metric = "cosine"
	}
	if cfg.Segment.TargetSize == 0 {
		cfg.Segment.TargetSize = 300
	}
	if cfg.Segment.Overlap == 0 {
		cfg.Segment.Overlap = 50
	}
	if cfg.Segment.MinSize == 0 {
		cfg.Segment.MinSize = 20
	}
	if cfg.Segment.ChatGapSeconds == 0 {
		cfg.Segment.ChatGapSeconds = 600
	}
	if cfg.Segment.ChatTurnsPerGroup == 0 {
		cfg.Segment.ChatTurnsPerGroup = 10
	}
	if cfg.Retrieval.DefaultTopK == 0 {
		cfg.Retrieval.DefaultTopK = 10
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 100
	}
	if cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.SemanticWeight = 0.7
	}
	if cfg.Retrieval.LexicalWeight == 0 {
		cfg.Retrieval.LexicalWeight = 0.3
	}
	if cfg.Retrieval.CandidateMultiple == 0 {
		cfg.Retrieval.CandidateMultiple = 5
	}
	if cfg.Retrieval.Normalization == "" {
		cfg.Retrieval.Normalization = "minmax"
	}
	if cfg.Retrieval.SubQueryTimeoutMs == 0 {
		cfg.Retrieval.SubQueryTimeoutMs = 2000
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 256
	}
	if cfg.Ingest.EmbedBatchSize == 0 {
		cfg.Ingest.EmbedBatchSize = 32
	}
	if cfg.Ingest.MaxUnitRetries == 0 {
		cfg.Ingest.MaxUnitRetries = 3
	}
	if cfg.Ingest.StoreRetries == 0 {
		cfg.Ingest.StoreRetries = 5
	}
	if cfg.Media.TimeoutSeconds == 0 {
		cfg.Media.TimeoutSeconds = 60
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{
			".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods", ".odt", ".rtf",
			".json", ".png", ".jpg", ".jpeg", ".wav", ".mp3", ".mp4",
		}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
