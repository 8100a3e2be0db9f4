package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/models"
)

// MediaClient calls external services that turn non-text media into text:
// OCR and captioning for images, transcription for audio and video. An empty
// endpoint disables the corresponding call.
type MediaClient struct {
	ocrURL        string
	captionURL    string
	transcribeURL string
	httpc         *http.Client
	logger        *zap.Logger
}

// NewMediaClient returns a MediaClient for the given endpoints.
func NewMediaClient(ocrURL, captionURL, transcribeURL string, timeout time.Duration, logger *zap.Logger) *MediaClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &MediaClient{
		ocrURL:        ocrURL,
		captionURL:    captionURL,
		transcribeURL: transcribeURL,
		httpc:         &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// TranscriptSegment is one span of recognized speech.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Keyframe is a sampled video frame with its generated caption.
type Keyframe struct {
	Time    float64 `json:"time"`
	Caption string  `json:"caption"`
}

// Transcript is the transcription service's response. Keyframes is populated
// for video input only.
type Transcript struct {
	Segments  []TranscriptSegment `json:"segments"`
	Keyframes []Keyframe          `json:"keyframes,omitempty"`
}

// OCR recognizes text in an image. Returns an empty string when the image
// contains no text.
func (m *MediaClient) OCR(ctx context.Context, image []byte) (string, error) {
	if m.ocrURL == "" {
		return "", fmt.Errorf("ocr endpoint not configured")
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := m.post(ctx, m.ocrURL, image, &out); err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return out.Text, nil
}

// Caption generates a description of an image.
func (m *MediaClient) Caption(ctx context.Context, image []byte) (string, error) {
	if m.captionURL == "" {
		return "", fmt.Errorf("caption endpoint not configured")
	}
	var out struct {
		Caption string `json:"caption"`
	}
	if err := m.post(ctx, m.captionURL, image, &out); err != nil {
		return "", fmt.Errorf("caption: %w", err)
	}
	return out.Caption, nil
}

// Transcribe converts audio or video to timestamped transcript segments.
// format is the source extension without the dot, passed so the service can
// pick a demuxer.
func (m *MediaClient) Transcribe(ctx context.Context, media []byte, format string) (*Transcript, error) {
	if m.transcribeURL == "" {
		return nil, fmt.Errorf("transcribe endpoint not configured")
	}
	url := m.transcribeURL
	if format != "" {
		url += "?format=" + format
	}
	var out Transcript
	if err := m.post(ctx, url, media, &out); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	return &out, nil
}

func (m *MediaClient) post(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := m.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// extractImage produces one unit combining OCR text and a model caption.
// Either source may fail or come back empty without failing the other; the
// unit records which provenance produced text.
func (e *Extractor) extractImage(ctx context.Context, content []byte) ([]models.ExtractedUnit, []models.UnitFailure, error) {
	if e.media == nil {
		return nil, nil, fmt.Errorf("%w: no media services configured for image source", models.ErrExtraction)
	}
	var failures []models.UnitFailure

	ocrText, ocrErr := e.media.OCR(ctx, content)
	if ocrErr != nil {
		failures = append(failures, models.UnitFailure{
			UnitID: "ocr", Kind: models.FailureExtraction, Message: ocrErr.Error(),
		})
	}
	caption, capErr := e.media.Caption(ctx, content)
	if capErr != nil {
		failures = append(failures, models.UnitFailure{
			UnitID: "caption", Kind: models.FailureExtraction, Message: capErr.Error(),
		})
	}
	if ocrErr != nil && capErr != nil {
		return nil, nil, fmt.Errorf("%w: ocr: %v; caption: %v", models.ErrExtraction, ocrErr, capErr)
	}
	if ocrText == "" && caption == "" {
		return nil, failures, nil
	}

	provenance := "ocr+caption"
	if ocrText == "" {
		provenance = "caption"
	} else if caption == "" {
		provenance = "ocr"
	}
	return []models.ExtractedUnit{{
		Index:         0,
		ContentType:   models.ContentTypeImageCaption,
		Text:          ocrText,
		SecondaryText: caption,
		Meta:          models.ChunkMeta{Provenance: provenance},
	}}, failures, nil
}

// extractAudio produces one unit per transcript segment.
func (e *Extractor) extractAudio(ctx context.Context, content []byte, ext string) ([]models.ExtractedUnit, []models.UnitFailure, error) {
	if e.media == nil {
		return nil, nil, fmt.Errorf("%w: no media services configured for audio source", models.ErrExtraction)
	}
	tr, err := e.media.Transcribe(ctx, content, trimDot(ext))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrExtraction, err)
	}
	units := make([]models.ExtractedUnit, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		if seg.Text == "" {
			continue
		}
		units = append(units, models.ExtractedUnit{
			Index:       len(units),
			ContentType: models.ContentTypeAudioTranscript,
			Text:        seg.Text,
			Meta: models.ChunkMeta{
				StartTime:  seg.Start,
				EndTime:    seg.End,
				Provenance: "transcript",
			},
		})
	}
	return units, nil, nil
}

// extractVideo transcribes the audio track and merges keyframe captions into
// the temporally overlapping transcript segment. Keyframes with no
// overlapping segment become standalone units.
func (e *Extractor) extractVideo(ctx context.Context, content []byte, ext string) ([]models.ExtractedUnit, []models.UnitFailure, error) {
	if e.media == nil {
		return nil, nil, fmt.Errorf("%w: no media services configured for video source", models.ErrExtraction)
	}
	tr, err := e.media.Transcribe(ctx, content, trimDot(ext))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrExtraction, err)
	}

	captions := make([][]string, len(tr.Segments))
	var orphans []Keyframe
	for _, kf := range tr.Keyframes {
		if kf.Caption == "" {
			continue
		}
		matched := false
		for i, seg := range tr.Segments {
			if kf.Time >= seg.Start && kf.Time <= seg.End {
				captions[i] = append(captions[i], kf.Caption)
				matched = true
				break
			}
		}
		if !matched {
			orphans = append(orphans, kf)
		}
	}

	var units []models.ExtractedUnit
	for i, seg := range tr.Segments {
		if seg.Text == "" && len(captions[i]) == 0 {
			continue
		}
		provenance := "transcript"
		if len(captions[i]) > 0 {
			provenance = "transcript+keyframe"
		}
		units = append(units, models.ExtractedUnit{
			Index:         len(units),
			ContentType:   models.ContentTypeVideoSegment,
			Text:          seg.Text,
			SecondaryText: joinCaptions(captions[i]),
			Meta: models.ChunkMeta{
				StartTime:  seg.Start,
				EndTime:    seg.End,
				Provenance: provenance,
			},
		})
	}
	for _, kf := range orphans {
		units = append(units, models.ExtractedUnit{
			Index:       len(units),
			ContentType: models.ContentTypeVideoSegment,
			Text:        kf.Caption,
			Meta: models.ChunkMeta{
				StartTime:  kf.Time,
				EndTime:    kf.Time,
				Provenance: "keyframe",
			},
		})
	}
	return units, nil, nil
}

func joinCaptions(captions []string) string {
	switch len(captions) {
	case 0:
		return ""
	case 1:
		return captions[0]
	}
	var b bytes.Buffer
	for i, c := range captions {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c)
	}
	return b.String()
}

func trimDot(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}
