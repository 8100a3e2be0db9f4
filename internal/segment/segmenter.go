// Package segment splits extracted units into overlapping chunks along
// structural boundaries.
package segment

import (
	"fmt"
	"strings"

	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/pkg/utils"
)

// Segmenter produces chunks according to a sizing policy. Sizes are in
// approximate tokens. Segmentation is deterministic: the same units and
// policy always yield identical chunk boundaries and ids.
type Segmenter struct {
	policy models.SegmentPolicy
}

// New creates a Segmenter with the given policy. Zero or negative fields
// fall back to safe values.
func New(policy models.SegmentPolicy) *Segmenter {
	if policy.TargetSize <= 0 {
		policy.TargetSize = 300
	}
	if policy.Overlap < 0 {
		policy.Overlap = 0
	}
	if policy.Overlap >= policy.TargetSize {
		policy.Overlap = policy.TargetSize / 2
	}
	if policy.MinSize < 0 {
		policy.MinSize = 0
	}
	return &Segmenter{policy: policy}
}

// span is one indivisible boundary-aligned piece of a unit. sep joins it to
// the preceding span within the same chunk, which keeps the trailing part of
// a chunk byte-identical to the head of its successor.
type span struct {
	text   string
	start  int
	end    int
	tokens int
	sep    string
}

// Segment converts a document's extracted units into an ordered chunk
// sequence. Ordinals are dense and increasing across the whole document.
func (s *Segmenter) Segment(docID, kbID string, units []models.ExtractedUnit) []*models.Chunk {
	var chunks []*models.Chunk
	ordinal := 0
	for ui := range units {
		unit := &units[ui]
		var unitChunks []*models.Chunk
		if unit.ContentType == models.ContentTypeChatTurn && len(unit.Turns) > 0 {
			unitChunks = s.segmentTurns(docID, kbID, unit, &ordinal)
		} else {
			unitChunks = s.segmentText(docID, kbID, unit, &ordinal)
		}
		chunks = append(chunks, unitChunks...)
	}
	// The document's final chunk is kept regardless of size; undersized
	// chunks elsewhere were already merged during emission.
	return chunks
}

// unitText combines primary and secondary text (OCR and caption, transcript
// and keyframe description) into the text the segmenter operates on.
func unitText(u *models.ExtractedUnit) string {
	if u.SecondaryText == "" {
		return u.Text
	}
	if u.Text == "" {
		return u.SecondaryText
	}
	return u.Text + "\n\n" + u.SecondaryText
}

func (s *Segmenter) segmentText(docID, kbID string, unit *models.ExtractedUnit, ordinal *int) []*models.Chunk {
	text := unitText(unit)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	spans := s.structuralSpans(text)
	if len(spans) == 0 {
		return nil
	}

	var chunks []*models.Chunk
	var current []span
	size := 0
	seedLen := 0 // leading spans of current already present in the previous chunk

	for _, sp := range spans {
		if size > 0 && size+sp.tokens > s.policy.TargetSize {
			chunks = append(chunks, s.newChunk(docID, kbID, unit, current, ordinal))
			tail := overlapSuffix(current, s.policy.Overlap)
			current = append([]span(nil), tail...)
			seedLen = len(tail)
			size = 0
			for _, t := range tail {
				size += t.tokens
			}
		}
		current = append(current, sp)
		size += sp.tokens
	}
	if len(current) > seedLen {
		if size < s.policy.MinSize && len(chunks) > 0 {
			// Undersized tail: merge the fresh spans into the previous
			// chunk instead of emitting a fragment (the seed spans are
			// already there).
			prev := chunks[len(chunks)-1]
			var b strings.Builder
			b.WriteString(prev.Content)
			for _, sp := range current[seedLen:] {
				b.WriteString(sp.sep)
				b.WriteString(sp.text)
			}
			prev.Content = b.String()
			prev.Meta.EndOffset = current[len(current)-1].end
		} else {
			chunks = append(chunks, s.newChunk(docID, kbID, unit, current, ordinal))
		}
	}
	return chunks
}

// segmentTurns packs whole chat turns into chunks. A turn is atomic: it is
// never split, and overlap is expressed in whole turns.
func (s *Segmenter) segmentTurns(docID, kbID string, unit *models.ExtractedUnit, ordinal *int) []*models.Chunk {
	var chunks []*models.Chunk
	var current []models.ChatTurn
	size := 0

	emit := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, s.newTurnChunk(docID, kbID, unit, current, ordinal))
	}

	for _, turn := range unit.Turns {
		tokens := utils.EstimateTokens(turn.Render())
		if size > 0 && size+tokens > s.policy.TargetSize {
			emit()
			tail := turnOverlapSuffix(current, s.policy.Overlap)
			current = append([]models.ChatTurn(nil), tail...)
			size = 0
			for _, t := range current {
				size += utils.EstimateTokens(t.Render())
			}
		}
		current = append(current, turn)
		size += tokens
	}
	emit()
	return chunks
}

func (s *Segmenter) newChunk(docID, kbID string, unit *models.ExtractedUnit, spans []span, ordinal *int) *models.Chunk {
	meta := unit.Meta
	meta.StartOffset = spans[0].start
	meta.EndOffset = spans[len(spans)-1].end
	c := &models.Chunk{
		ID:              chunkID(docID, *ordinal),
		DocumentID:      docID,
		KnowledgeBaseID: kbID,
		Ordinal:         *ordinal,
		ContentType:     unit.ContentType,
		Content:         joinSpans(spans),
		Meta:            meta,
	}
	*ordinal++
	return c
}

func (s *Segmenter) newTurnChunk(docID, kbID string, unit *models.ExtractedUnit, turns []models.ChatTurn, ordinal *int) *models.Chunk {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.Render()
	}
	meta := unit.Meta
	meta.FirstTurn = turns[0].Index
	meta.LastTurn = turns[len(turns)-1].Index
	meta.Speaker = turns[0].Speaker
	c := &models.Chunk{
		ID:              chunkID(docID, *ordinal),
		DocumentID:      docID,
		KnowledgeBaseID: kbID,
		Ordinal:         *ordinal,
		ContentType:     models.ContentTypeChatTurn,
		Content:         strings.Join(lines, "\n"),
		Meta:            meta,
	}
	*ordinal++
	return c
}

// chunkID derives a stable id from the document id and ordinal, so
// reprocessing a document re-upserts the same vector ids.
func chunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s_%04d", docID, ordinal)
}

// overlapSuffix returns the longest strict suffix of spans whose total size
// fits in overlap tokens. Whole spans only; a boundary is never re-split.
func overlapSuffix(spans []span, overlap int) []span {
	if overlap <= 0 || len(spans) < 2 {
		return nil
	}
	total := 0
	i := len(spans)
	for i > 1 {
		if total+spans[i-1].tokens > overlap {
			break
		}
		total += spans[i-1].tokens
		i--
	}
	return spans[i:]
}

func turnOverlapSuffix(turns []models.ChatTurn, overlap int) []models.ChatTurn {
	if overlap <= 0 || len(turns) < 2 {
		return nil
	}
	total := 0
	i := len(turns)
	for i > 1 {
		t := utils.EstimateTokens(turns[i-1].Render())
		if total+t > overlap {
			break
		}
		total += t
		i--
	}
	return turns[i:]
}

// joinSpans rebuilds chunk content. Each span's separator precedes it, except
// the first. Because an overlap suffix keeps its inner separators, the tail
// of one chunk is a prefix of the next.
func joinSpans(spans []span) string {
	var b strings.Builder
	for i, sp := range spans {
		if i > 0 {
			b.WriteString(sp.sep)
		}
		b.WriteString(sp.text)
	}
	return b.String()
}
