package models

import (
	"testing"
)

func TestRetrievalQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *RetrievalQuery
		wantErr bool
	}{
		{"empty query", &RetrievalQuery{KnowledgeBaseID: "kb1"}, true},
		{"missing knowledge base", &RetrievalQuery{Query: "hello"}, true},
		{"valid query", &RetrievalQuery{KnowledgeBaseID: "kb1", Query: "hello"}, false},
		{"sets default top_k", &RetrievalQuery{KnowledgeBaseID: "kb1", Query: "x", TopK: 0}, false},
		{"caps top_k at 100", &RetrievalQuery{KnowledgeBaseID: "kb1", Query: "x", TopK: 500}, false},
		{"clamps negative threshold", &RetrievalQuery{KnowledgeBaseID: "kb1", Query: "x", ScoreThreshold: -0.5}, false},
		{"clamps threshold above one", &RetrievalQuery{KnowledgeBaseID: "kb1", Query: "x", ScoreThreshold: 1.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.query.TopK <= 0 || tt.query.TopK > 100 {
				t.Errorf("expected top_k normalized, got %d", tt.query.TopK)
			}
			if tt.query.ScoreThreshold < 0 || tt.query.ScoreThreshold > 1 {
				t.Errorf("expected threshold clamped, got %f", tt.query.ScoreThreshold)
			}
		})
	}
}

func TestEmbeddingPolicy_ModelFor(t *testing.T) {
	p := EmbeddingPolicy{Models: map[ContentType]string{
		ContentTypeText:         "text-model",
		ContentTypeImageCaption: "clip-model",
	}}
	if got := p.ModelFor(ContentTypeImageCaption); got != "clip-model" {
		t.Errorf("expected dedicated model, got %q", got)
	}
	if got := p.ModelFor(ContentTypeChatTurn); got != "text-model" {
		t.Errorf("expected text fallback, got %q", got)
	}
}
