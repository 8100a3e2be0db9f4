package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/chie/internal/models"
)

// chunkDoc is the shape Bleve indexes. Scoping fields are keyword-mapped so
// they match exactly instead of being tokenized.
type chunkDoc struct {
	Content         string `json:"content"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	DocumentID      string `json:"document_id"`
	ContentType     string `json:"content_type"`
	Speaker         string `json:"speaker,omitempty"`
}

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// reused so restarts do not force a re-index; remove the directory to force
// one after a mapping change.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	contentMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so exact words
	// match; the English analyzer stems them into non-matching forms.
	contentMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", contentMapping)

	keywordMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("knowledge_base_id", keywordMapping)
	docMapping.AddFieldMappingsAt("document_id", keywordMapping)
	docMapping.AddFieldMappingsAt("content_type", keywordMapping)
	docMapping.AddFieldMappingsAt("speaker", keywordMapping)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexChunks indexes chunks in one batch, keyed by chunk id.
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []*models.Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := chunkDoc{
			Content:         c.Content,
			KnowledgeBaseID: c.KnowledgeBaseID,
			DocumentID:      c.DocumentID,
			ContentType:     string(c.ContentType),
			Speaker:         c.Meta.Speaker,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("batch index chunk %s: %w", c.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a match query over chunk content, scoped to a knowledge base
// and any extra option filters.
func (b *BleveIndex) Search(ctx context.Context, kbID, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var content blevequery.Query
	if fuzzyEnabled {
		content = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		content = mq
	}

	conjuncts := []blevequery.Query{content}
	conjuncts = append(conjuncts, termFilter("knowledge_base_id", kbID))
	if opts != nil && opts.DocumentID != "" {
		conjuncts = append(conjuncts, termFilter("document_id", opts.DocumentID))
	}
	if opts != nil && opts.ContentType != "" {
		conjuncts = append(conjuncts, termFilter("content_type", string(opts.ContentType)))
	}

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(conjuncts...))
	req.Size = limit
	req.Fields = []string{"document_id"}
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		r := &Result{ChunkID: hit.ID, Score: hit.Score}
		if docID, ok := hit.Fields["document_id"].(string); ok {
			r.DocumentID = docID
		}
		out[i] = r
	}
	return out, nil
}

func termFilter(field, value string) blevequery.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	return tq
}

// buildFuzzyQuery creates a disjunction of per-term fuzzy queries over the
// content field, mimicking MatchQuery's any-term-matches semantics.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField("content")
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("content")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits a query into lowercase terms.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// DeleteChunks removes chunks by id in one batch.
func (b *BleveIndex) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// DeleteDocument removes every chunk indexed for a document.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	req := bleve.NewSearchRequest(termFilter("document_id", documentID))
	req.Size = 10000
	for {
		results, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("find chunks of document %s: %w", documentID, err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return err
		}
		if len(results.Hits) < req.Size {
			return nil
		}
	}
}

// DocCount returns the total number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// GetAllTerms returns all unique content terms from the index dictionary.
func (b *BleveIndex) GetAllTerms() ([]string, error) {
	dict, err := b.index.FieldDict("content")
	if err != nil {
		return nil, err
	}
	defer dict.Close()

	var terms []string
	for {
		entry, err := dict.Next()
		if err != nil || entry == nil {
			break
		}
		terms = append(terms, entry.Term)
	}
	return terms, nil
}

// GetTermFrequency returns the number of chunks containing the term.
func (b *BleveIndex) GetTermFrequency(term string) (int, error) {
	q := bleve.NewMatchQuery(term)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = 0
	results, err := b.index.Search(req)
	if err != nil {
		return 0, fmt.Errorf("failed to search for term frequency: %w", err)
	}
	return int(results.Total), nil
}
