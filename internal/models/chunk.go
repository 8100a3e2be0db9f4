package models

import "time"

// ContentType tags the modality a chunk was derived from.
type ContentType string

const (
	ContentTypeText            ContentType = "text"
	ContentTypeChatTurn        ContentType = "chat_turn"
	ContentTypeImageCaption    ContentType = "image_caption"
	ContentTypeAudioTranscript ContentType = "audio_transcript"
	ContentTypeVideoSegment    ContentType = "video_segment"
)

// Chunk is the smallest retrievable unit of knowledge-base content. Ordinals
// are dense and strictly increasing per document.
type Chunk struct {
	ID              string      `json:"id" db:"id"`
	DocumentID      string      `json:"document_id" db:"document_id"`
	KnowledgeBaseID string      `json:"knowledge_base_id" db:"knowledge_base_id"`
	Ordinal         int         `json:"ordinal" db:"ordinal"`
	ContentType     ContentType `json:"content_type" db:"content_type"`
	Content         string      `json:"content" db:"content"`
	Meta            ChunkMeta   `json:"meta" db:"meta"`
	Embedding       []float32   `json:"-" db:"-"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// ChunkMeta carries structural provenance: character offsets for text, page
// numbers for paginated sources, timestamps for media, speaker and turn
// bounds for chat.
type ChunkMeta struct {
	StartOffset int     `json:"start_offset,omitempty"`
	EndOffset   int     `json:"end_offset,omitempty"`
	Page        int     `json:"page,omitempty"`
	StartTime   float64 `json:"start_time,omitempty"`
	EndTime     float64 `json:"end_time,omitempty"`
	Speaker     string  `json:"speaker,omitempty"`
	FirstTurn   int     `json:"first_turn,omitempty"`
	LastTurn    int     `json:"last_turn,omitempty"`
	Provenance  string  `json:"provenance,omitempty"` // "ocr", "caption", "transcript", "keyframe"
}

// ExtractedUnit is the extractor's normalized output: one coherent span of
// text plus the structure the segmenter needs to place boundaries.
type ExtractedUnit struct {
	Index       int
	ContentType ContentType
	Text        string
	// SecondaryText holds derived text with distinct provenance, such as a
	// model caption accompanying OCR output.
	SecondaryText string
	Meta          ChunkMeta
	// Turns is populated for chat units; each turn is atomic for the
	// segmenter.
	Turns []ChatTurn
}

// ChatTurn is one utterance in an imported transcript.
type ChatTurn struct {
	Index     int       `json:"index"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Render formats the turn for chunk content.
func (t ChatTurn) Render() string {
	if t.Speaker == "" {
		return t.Text
	}
	return t.Speaker + ": " + t.Text
}
