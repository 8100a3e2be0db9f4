// Package extract normalizes raw sources (documents, chat transcripts,
// images, audio, video) into extracted units ready for segmentation.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/models"
)

// Extractor turns a document's raw bytes into extracted units. Text formats
// are parsed in-process; images, audio, and video are delegated to the
// configured media services.
type Extractor struct {
	media   *MediaClient
	httpc   *http.Client
	chatGap time.Duration
	logger  *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// WithMediaClient sets the client used for OCR, captioning, and transcription.
func WithMediaClient(mc *MediaClient) Option {
	return func(e *Extractor) { e.media = mc }
}

// WithChatGap sets the silence gap that starts a new chat unit.
func WithChatGap(gap time.Duration) Option {
	return func(e *Extractor) { e.chatGap = gap }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		httpc:   &http.Client{Timeout: 30 * time.Second},
		chatGap: 10 * time.Minute,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}
var audioExts = map[string]bool{".wav": true, ".mp3": true, ".m4a": true, ".flac": true, ".ogg": true}
var videoExts = map[string]bool{".mp4": true, ".mkv": true, ".mov": true, ".webm": true, ".avi": true}

// Extract produces extracted units for a document. A source that cannot be
// read at all returns a terminal error; a partially parseable source returns
// the succeeded units plus per-unit failures, and ingestion proceeds on the
// units.
func (e *Extractor) Extract(ctx context.Context, doc *models.Document, content []byte) ([]models.ExtractedUnit, []models.UnitFailure, error) {
	if doc.SourceType == models.SourceURL && len(content) == 0 {
		fetched, err := e.fetchURL(ctx, doc.ContentRef)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: fetch %s: %v", models.ErrExtraction, doc.ContentRef, err)
		}
		content = fetched
	}
	if doc.SourceType == models.SourceChat {
		return e.extractChat(content)
	}

	ext := strings.ToLower(filepath.Ext(refPath(doc.ContentRef)))
	switch {
	case imageExts[ext]:
		return e.extractImage(ctx, content)
	case audioExts[ext]:
		return e.extractAudio(ctx, content, ext)
	case videoExts[ext]:
		return e.extractVideo(ctx, content, ext)
	case ext == ".pdf":
		pages, failures, err := extractPDFPages(content)
		if err != nil {
			return nil, nil, err
		}
		units := make([]models.ExtractedUnit, 0, len(pages))
		for i, page := range pages {
			if strings.TrimSpace(page) == "" {
				continue
			}
			units = append(units, models.ExtractedUnit{
				Index:       len(units),
				ContentType: models.ContentTypeText,
				Text:        page,
				Meta:        models.ChunkMeta{Page: i + 1},
			})
		}
		return units, failures, nil
	case ext == ".pptx":
		slides, err := extractPPTXSlides(content)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrExtraction, err)
		}
		units := make([]models.ExtractedUnit, 0, len(slides))
		for i, slide := range slides {
			if strings.TrimSpace(slide) == "" {
				continue
			}
			units = append(units, models.ExtractedUnit{
				Index:       len(units),
				ContentType: models.ContentTypeText,
				Text:        slide,
				Meta:        models.ChunkMeta{Page: i + 1},
			})
		}
		return units, nil, nil
	default:
		text, err := e.ExtractBytes(content, ext)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrExtraction, err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, nil, nil
		}
		return []models.ExtractedUnit{{
			Index:       0,
			ContentType: models.ContentTypeText,
			Text:        text,
		}}, nil, nil
	}
}

// ExtractBytes extracts plain text from a text-format source based on the
// given extension. ext should include the leading dot (e.g. ".docx").
// Unknown extensions are treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".odp", ".ods", ".odt":
		return extractOpenDocument(content)
	case ".rtf":
		return extractRTF(content)
	case ".txt", ".md", ".rst", ".csv", ".json", ".html", "":
		return decodeText(content)
	default:
		return decodeText(content)
	}
}

// fetchURL downloads a URL source.
func (e *Extractor) fetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// refPath returns the path portion of a content reference, which may be a
// plain file path or a URL.
func refPath(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return u.Path
	}
	return ref
}
