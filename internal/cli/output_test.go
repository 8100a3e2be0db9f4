package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/chie/internal/models"
)

func sampleResponse() *models.RetrievalResponse {
	return &models.RetrievalResponse{
		Query:     "test query",
		QueryTime: 42,
		Results: []*models.RetrievalResult{
			{
				ChunkID:       "doc-1_0000",
				DocumentID:    "doc-1",
				Ordinal:       0,
				ContentType:   models.ContentTypeText,
				Content:       "Content here",
				SemanticScore: 0.9,
				LexicalScore:  0.4,
				Score:         0.75,
				Rank:          1,
			},
		},
	}
}

func TestWriteRetrievalResults_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteRetrievalResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteRetrievalResults(json): %v", err)
	}
	var decoded models.RetrievalResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != response.QueryTime {
		t.Errorf("decoded query=%q query_time=%d, want query=%q query_time=%d",
			decoded.Query, decoded.QueryTime, response.Query, response.QueryTime)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].ChunkID != "doc-1_0000" {
		t.Errorf("decoded results: want one result with chunk doc-1_0000, got %+v", decoded.Results)
	}
}

func TestWriteRetrievalResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrievalResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatalf("WriteRetrievalResults(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 1 results", "42ms", "Rank: 1", "doc-1_0000", "Content here", "Lexical: 0.4000"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteRetrievalResults_text_partialAndSuggestion(t *testing.T) {
	response := &models.RetrievalResponse{
		Query:               "misspeled",
		QueryTime:           5,
		Results:             []*models.RetrievalResult{},
		Partial:             true,
		ExcludedCollections: []string{"lexical"},
		Suggestion:          "misspelled",
	}
	var buf bytes.Buffer
	if err := WriteRetrievalResults(&buf, response, OutputText); err != nil {
		t.Fatalf("WriteRetrievalResults(text): %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "partial: excluded lexical") {
		t.Errorf("expected partial notice in output:\n%s", out)
	}
	if !strings.Contains(out, "Did you mean: misspelled") {
		t.Errorf("expected suggestion in output:\n%s", out)
	}
}

func TestWriteRetrievalResults_compact(t *testing.T) {
	response := sampleResponse()
	response.Results[0].Content = "line one\nline   two"
	var buf bytes.Buffer
	if err := WriteRetrievalResults(&buf, response, OutputCompact); err != nil {
		t.Fatalf("WriteRetrievalResults(compact): %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("compact output should be one line per result, got %d:\n%s", len(lines), out)
	}
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 4 {
		t.Fatalf("compact line should have 4 tab fields, got %d: %q", len(fields), lines[0])
	}
	if fields[2] != "doc-1_0000" {
		t.Errorf("compact chunk id = %q, want doc-1_0000", fields[2])
	}
	if strings.Contains(fields[3], "\n") || strings.Contains(fields[3], "  ") {
		t.Errorf("compact content should collapse whitespace, got %q", fields[3])
	}
}

func TestWriteRetrievalResults_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRetrievalResults(&buf, &models.RetrievalResponse{Query: "x"}, OutputFormat("unknown"))
	if err != nil {
		t.Fatalf("WriteRetrievalResults(unknown): %v", err)
	}
	if !strings.Contains(buf.String(), "Found") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

