package models

import "time"

// SourceType identifies how a document entered the system.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
	SourceAPI    SourceType = "api"
	SourceChat   SourceType = "chat"
)

// DocumentStatus is the ingestion state of a document. Only the ingestion
// coordinator transitions status.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Document represents one ingested source unit: a file, a URL fetch, an API
// payload, or an imported chat transcript.
type Document struct {
	ID              string                 `json:"id" db:"id"`
	KnowledgeBaseID string                 `json:"knowledge_base_id" db:"knowledge_base_id"`
	Title           string                 `json:"title" db:"title"`
	SourceType      SourceType             `json:"source_type" db:"source_type"`
	ContentRef      string                 `json:"content_ref" db:"content_ref"`
	Status          DocumentStatus         `json:"status" db:"status"`
	StatusReason    string                 `json:"status_reason,omitempty" db:"status_reason"`
	UnitFailures    []UnitFailure          `json:"unit_failures,omitempty" db:"unit_failures"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" db:"updated_at"`
}

// DocumentInput is the payload for submitting a document for ingestion.
// Content carries raw bytes for inline submissions; ContentRef points at a
// file path or URL otherwise.
type DocumentInput struct {
	KnowledgeBaseID string                 `json:"knowledge_base_id"`
	Title           string                 `json:"title,omitempty"`
	SourceType      SourceType             `json:"source_type"`
	ContentRef      string                 `json:"content_ref,omitempty"`
	Content         []byte                 `json:"content,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}
