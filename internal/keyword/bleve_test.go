package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/chie/internal/models"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "chunks.bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func chunk(id, kbID, docID, content string) *models.Chunk {
	return &models.Chunk{
		ID:              id,
		KnowledgeBaseID: kbID,
		DocumentID:      docID,
		ContentType:     models.ContentTypeText,
		Content:         content,
	}
}

func TestBleveIndex_searchScopedToKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	err := idx.IndexChunks(ctx, []*models.Chunk{
		chunk("c1", "kb1", "d1", "bayesian inference over sparse priors"),
		chunk("c2", "kb1", "d2", "gradient descent convergence"),
		chunk("c3", "kb2", "d3", "bayesian networks for diagnosis"),
	})
	if err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	results, err := idx.Search(ctx, "kb1", "bayesian", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Errorf("kb1 results: %+v", results)
	}
	if results[0].DocumentID != "d1" {
		t.Errorf("document id not carried: %+v", results[0])
	}

	results, err = idx.Search(ctx, "kb2", "bayesian", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ChunkID != "c3" {
		t.Errorf("kb2 results: %+v", results)
	}
}

func TestBleveIndex_documentFilter(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	err := idx.IndexChunks(ctx, []*models.Chunk{
		chunk("c1", "kb1", "d1", "release notes for the storage layer"),
		chunk("c2", "kb1", "d2", "release notes for the transport layer"),
	})
	if err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search(ctx, "kb1", "release notes", 10, &SearchOptions{DocumentID: "d2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ChunkID != "c2" {
		t.Errorf("filtered results: %+v", results)
	}
}

func TestBleveIndex_reindexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	if err := idx.IndexChunks(ctx, []*models.Chunk{chunk("c1", "kb1", "d1", "original text")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexChunks(ctx, []*models.Chunk{chunk("c1", "kb1", "d1", "replacement text")}); err != nil {
		t.Fatal(err)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("doc count after re-index: got %d, want 1", n)
	}
	results, err := idx.Search(ctx, "kb1", "original", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("stale content still matches: %+v", results)
	}
	results, err = idx.Search(ctx, "kb1", "replacement", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("replacement content not matched: %+v", results)
	}
}

func TestBleveIndex_fuzzySearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	if err := idx.IndexChunks(ctx, []*models.Chunk{chunk("c1", "kb1", "d1", "kubernetes deployment guide")}); err != nil {
		t.Fatal(err)
	}

	// Typo without fuzzy finds nothing.
	results, err := idx.Search(ctx, "kb1", "kubernetse", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("exact search matched a typo: %+v", results)
	}

	results, err = idx.Search(ctx, "kb1", "kubernetse", 10, &SearchOptions{FuzzyEnabled: true, Fuzziness: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Errorf("fuzzy search: %+v", results)
	}
}

func TestBleveIndex_deleteDocument(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	err := idx.IndexChunks(ctx, []*models.Chunk{
		chunk("c1", "kb1", "d1", "first chunk of doc one"),
		chunk("c2", "kb1", "d1", "second chunk of doc one"),
		chunk("c3", "kb1", "d2", "only chunk of doc two"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := idx.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("doc count after delete: got %d, want 1", n)
	}
	// Deleting an absent document is a no-op.
	if err := idx.DeleteDocument(ctx, "d9"); err != nil {
		t.Errorf("delete of unknown document: %v", err)
	}
	if err := idx.DeleteChunks(ctx, []string{"c3", "c9"}); err != nil {
		t.Errorf("DeleteChunks: %v", err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("doc count: got %d, want 0", n)
	}
}

func TestBleveIndex_persistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.bleve")

	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexChunks(ctx, []*models.Chunk{chunk("c1", "kb1", "d1", "persisted content")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx2, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()
	results, err := idx2.Search(ctx, "kb1", "persisted", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("reopened index results: %+v", results)
	}
}
