package models

// RetrievalResult is a single ranked hit. Transient; produced per query and
// never persisted.
type RetrievalResult struct {
	ChunkID       string      `json:"chunk_id"`
	DocumentID    string      `json:"document_id"`
	Ordinal       int         `json:"ordinal"`
	ContentType   ContentType `json:"content_type"`
	Content       string      `json:"content"`
	SemanticScore float64     `json:"semantic_score"`
	LexicalScore  float64     `json:"lexical_score,omitempty"`
	Score         float64     `json:"score"`
	Rank          int         `json:"rank"`
	Meta          ChunkMeta   `json:"meta,omitempty"`
}

// RetrievalResponse is the response for a retrieval request.
type RetrievalResponse struct {
	Results   []*RetrievalResult `json:"results"`
	Query     string             `json:"query"`
	QueryTime int64              `json:"query_time_ms"`
	// Partial is true when one or more collections timed out and were
	// excluded from fusion.
	Partial bool `json:"partial,omitempty"`
	// ExcludedCollections names the collections dropped from fusion.
	ExcludedCollections []string `json:"excluded_collections,omitempty"`
	// Suggestion is a corrected query offered when results are empty and a
	// likely spelling fix exists.
	Suggestion string `json:"suggestion,omitempty"`
}
