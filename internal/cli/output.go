// Package cli provides CLI utilities for Chie.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/pkg/utils"
)

// OutputFormat is the format for retrieval result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact is one result per line, for piping into other tools.
	OutputCompact OutputFormat = "compact"
)

// WriteRetrievalResults writes retrieval results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteRetrievalResults(w io.Writer, response *models.RetrievalResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputCompact:
		writeRetrievalResultsCompact(w, response)
		return nil
	default:
		writeRetrievalResultsText(w, response)
		return nil
	}
}

func writeRetrievalResultsText(w io.Writer, response *models.RetrievalResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms\n", len(response.Results), response.QueryTime)
	if response.Partial {
		fmt.Fprintf(w, "(partial: excluded %s)\n", strings.Join(response.ExcludedCollections, ", "))
	}
	if response.Suggestion != "" {
		fmt.Fprintf(w, "Did you mean: %s\n", response.Suggestion)
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.RetrievalResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	if result.LexicalScore > 0 {
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Semantic: %.4f, Lexical: %.4f)\n",
			result.Rank, result.Score, result.SemanticScore, result.LexicalScore)
	} else {
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Semantic: %.4f)\n",
			result.Rank, result.Score, result.SemanticScore)
	}
	fmt.Fprintf(w, "Chunk: %s (document %s, #%d, %s)\n",
		result.ChunkID, result.DocumentID, result.Ordinal, result.ContentType)
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Content, 200))
	fmt.Fprintln(w)
}

func writeRetrievalResultsCompact(w io.Writer, response *models.RetrievalResponse) {
	for _, result := range response.Results {
		content := strings.Join(strings.Fields(result.Content), " ")
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n",
			result.Rank, result.Score, result.ChunkID, utils.Truncate(content, 120))
	}
}
