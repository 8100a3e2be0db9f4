package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/chie/internal/models"
)

// chatTimeFormats are accepted transcript timestamp layouts, tried in order.
var chatTimeFormats = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range chatTimeFormats {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// chatMessage is one transcript entry as imported. Field aliases cover the
// common export shapes (speaker/sender, text/content).
type chatMessage struct {
	Speaker   string `json:"speaker"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type chatEnvelope struct {
	Messages []chatMessage `json:"messages"`
}

// extractChat parses a chat transcript export (a JSON array of messages, or
// an object with a "messages" array) and pre-groups consecutive turns into
// units. A new unit starts on a silence gap longer than the configured
// threshold, or on a speaker change after half that gap. Turns stay atomic;
// the segmenter never splits one.
func (e *Extractor) extractChat(content []byte) ([]models.ExtractedUnit, []models.UnitFailure, error) {
	var msgs []chatMessage
	if err := json.Unmarshal(content, &msgs); err != nil {
		var env chatEnvelope
		if err2 := json.Unmarshal(content, &env); err2 != nil || env.Messages == nil {
			return nil, nil, fmt.Errorf("%w: parse transcript: %v", models.ErrExtraction, err)
		}
		msgs = env.Messages
	}

	var failures []models.UnitFailure
	turns := make([]models.ChatTurn, 0, len(msgs))
	for i, m := range msgs {
		text := m.Text
		if text == "" {
			text = m.Content
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		speaker := m.Speaker
		if speaker == "" {
			speaker = m.Sender
		}
		turn := models.ChatTurn{Index: i, Speaker: speaker, Text: text}
		if m.Timestamp != "" {
			ts, err := parseTimestamp(m.Timestamp)
			if err != nil {
				failures = append(failures, models.UnitFailure{
					UnitID:  fmt.Sprintf("turn-%d", i),
					Kind:    models.FailureExtraction,
					Message: fmt.Sprintf("bad timestamp %q: %v", m.Timestamp, err),
				})
			} else {
				turn.Timestamp = ts
			}
		}
		turns = append(turns, turn)
	}
	if len(turns) == 0 {
		return nil, failures, nil
	}

	var units []models.ExtractedUnit
	start := 0
	for i := 1; i <= len(turns); i++ {
		if i < len(turns) && !e.turnStartsNewUnit(turns[i-1], turns[i]) {
			continue
		}
		group := turns[start:i]
		units = append(units, chatUnit(len(units), group))
		start = i
	}
	return units, failures, nil
}

// turnStartsNewUnit reports whether next begins a new conversational unit
// relative to prev. Zero timestamps never split.
func (e *Extractor) turnStartsNewUnit(prev, next models.ChatTurn) bool {
	if prev.Timestamp.IsZero() || next.Timestamp.IsZero() {
		return false
	}
	gap := next.Timestamp.Sub(prev.Timestamp)
	if gap > e.chatGap {
		return true
	}
	if next.Speaker != prev.Speaker && gap > e.chatGap/2 {
		return true
	}
	return false
}

func chatUnit(index int, group []models.ChatTurn) models.ExtractedUnit {
	lines := make([]string, len(group))
	for i, t := range group {
		lines[i] = t.Render()
	}
	meta := models.ChunkMeta{
		FirstTurn: group[0].Index,
		LastTurn:  group[len(group)-1].Index,
		Speaker:   group[0].Speaker,
	}
	if !group[0].Timestamp.IsZero() {
		meta.StartTime = float64(group[0].Timestamp.Unix())
	}
	if !group[len(group)-1].Timestamp.IsZero() {
		meta.EndTime = float64(group[len(group)-1].Timestamp.Unix())
	}
	return models.ExtractedUnit{
		Index:       index,
		ContentType: models.ContentTypeChatTurn,
		Text:        strings.Join(lines, "\n"),
		Meta:        meta,
		Turns:       group,
	}
}
