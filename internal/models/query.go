package models

import "fmt"

// RetrievalQuery represents a retrieval request against one knowledge base.
type RetrievalQuery struct {
	KnowledgeBaseID string                 `json:"knowledge_base_id"`
	Query           string                 `json:"query"`
	TopK            int                    `json:"top_k,omitempty"`
	ScoreThreshold  float64                `json:"score_threshold,omitempty"`
	// Hybrid enables lexical search fused with semantic search. When false,
	// ranking is semantic-only.
	Hybrid  bool                   `json:"hybrid,omitempty"`
	Filters map[string]interface{} `json:"filters,omitempty"`
	// TimeoutMs bounds the whole query; sub-queries that miss the deadline
	// are excluded from fusion and reported in the response.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// Validate ensures the query has valid fields and sets defaults. Returns an
// error for an empty query or missing knowledge base id; otherwise
// normalizes top-k and clamps the threshold.
func (q *RetrievalQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.KnowledgeBaseID == "" {
		return fmt.Errorf("knowledge_base_id is required")
	}
	if q.TopK <= 0 {
		q.TopK = 10
	}
	if q.TopK > 100 {
		q.TopK = 100
	}
	if q.ScoreThreshold < 0 {
		q.ScoreThreshold = 0
	}
	if q.ScoreThreshold > 1 {
		q.ScoreThreshold = 1
	}
	return nil
}
