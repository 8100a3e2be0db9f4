package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/chie/internal/models"
)

func storeCfg(backend string) models.StoreConfig {
	return models.StoreConfig{Backend: backend, Dimensions: 2}
}

// backendUnderTest builds each local backend against the same contract
// checks.
func backendUnderTest(t *testing.T, name string) Backend {
	t.Helper()
	switch name {
	case "memory":
		return NewMemoryBackend()
	case "bolt":
		b, err := NewBoltBackend(filepath.Join(t.TempDir(), "vectors.bolt"))
		if err != nil {
			t.Fatalf("NewBoltBackend: %v", err)
		}
		return b
	default:
		t.Fatalf("unknown backend %q", name)
		return nil
	}
}

func rec(chunkID, docID string, ordinal int, vec []float32) Record {
	return Record{ChunkID: chunkID, DocumentID: docID, Ordinal: ordinal, Vector: vec}
}

func TestBackend_upsertSearchDelete(t *testing.T) {
	for _, name := range []string{"memory", "bolt"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := backendUnderTest(t, name)
			defer b.Close()

			if err := b.EnsureCollection(ctx, "kb1", 3, MetricCosine); err != nil {
				t.Fatalf("EnsureCollection: %v", err)
			}
			records := []Record{
				rec("c1", "d1", 0, []float32{1, 0, 0}),
				rec("c2", "d1", 1, []float32{0, 1, 0}),
				rec("c3", "d2", 0, []float32{0.9, 0.1, 0}),
			}
			if err := b.Upsert(ctx, "kb1", records); err != nil {
				t.Fatalf("Upsert: %v", err)
			}

			results, err := b.Search(ctx, "kb1", []float32{1, 0, 0}, 2, nil)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(results) != 2 {
				t.Fatalf("expected 2 results, got %d", len(results))
			}
			if results[0].ChunkID != "c1" {
				t.Errorf("best match: got %s", results[0].ChunkID)
			}
			if results[0].Score < results[1].Score {
				t.Error("results not in descending score order")
			}

			// Filtered search restricts to one document.
			results, err = b.Search(ctx, "kb1", []float32{1, 0, 0}, 10, map[string]string{"document_id": "d2"})
			if err != nil {
				t.Fatalf("filtered Search: %v", err)
			}
			if len(results) != 1 || results[0].ChunkID != "c3" {
				t.Errorf("filtered search: %+v", results)
			}

			if err := b.Delete(ctx, "kb1", []string{"c1", "does-not-exist"}); err != nil {
				t.Fatalf("Delete with missing id should be a no-op, got %v", err)
			}
			n, err := b.Count(ctx, "kb1")
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if n != 2 {
				t.Errorf("count after delete: got %d, want 2", n)
			}
		})
	}
}

func TestBackend_upsertIsIdempotentByChunkID(t *testing.T) {
	for _, name := range []string{"memory", "bolt"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := backendUnderTest(t, name)
			defer b.Close()
			if err := b.EnsureCollection(ctx, "kb1", 3, MetricCosine); err != nil {
				t.Fatal(err)
			}

			if err := b.Upsert(ctx, "kb1", []Record{rec("c1", "d1", 0, []float32{1, 0, 0})}); err != nil {
				t.Fatal(err)
			}
			// Re-upsert the same chunk id with a different vector.
			if err := b.Upsert(ctx, "kb1", []Record{rec("c1", "d1", 0, []float32{0, 0, 1})}); err != nil {
				t.Fatal(err)
			}

			n, err := b.Count(ctx, "kb1")
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Fatalf("expected exactly one record, got %d", n)
			}
			results, err := b.Search(ctx, "kb1", []float32{0, 0, 1}, 1, nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 1 || results[0].Score < 0.99 {
				t.Errorf("latest vector should win: %+v", results)
			}
		})
	}
}

func TestBackend_tieBreaksByOrdinal(t *testing.T) {
	for _, name := range []string{"memory", "bolt"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := backendUnderTest(t, name)
			defer b.Close()
			if err := b.EnsureCollection(ctx, "kb1", 2, MetricCosine); err != nil {
				t.Fatal(err)
			}
			// Identical vectors produce identical scores; the earlier
			// ordinal must rank first.
			if err := b.Upsert(ctx, "kb1", []Record{
				rec("late", "d1", 7, []float32{1, 0}),
				rec("early", "d1", 2, []float32{1, 0}),
			}); err != nil {
				t.Fatal(err)
			}
			results, err := b.Search(ctx, "kb1", []float32{1, 0}, 2, nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 2 || results[0].ChunkID != "early" {
				t.Errorf("tie-break order: %+v", results)
			}
		})
	}
}

func TestBackend_dimensionMismatchRejected(t *testing.T) {
	for _, name := range []string{"memory", "bolt"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := backendUnderTest(t, name)
			defer b.Close()
			if err := b.EnsureCollection(ctx, "kb1", 3, MetricCosine); err != nil {
				t.Fatal(err)
			}
			err := b.Upsert(ctx, "kb1", []Record{rec("c1", "d1", 0, []float32{1, 0})})
			if err == nil {
				t.Error("expected dimension mismatch error on upsert")
			}
			if _, err := b.Search(ctx, "kb1", []float32{1, 0, 0, 0}, 5, nil); err == nil {
				t.Error("expected dimension mismatch error on search")
			}
		})
	}
}

func TestBackend_scanRoundTrip(t *testing.T) {
	for _, name := range []string{"memory", "bolt"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := backendUnderTest(t, name)
			defer b.Close()
			if err := b.EnsureCollection(ctx, "kb1", 2, MetricDot); err != nil {
				t.Fatal(err)
			}
			in := []Record{
				{ChunkID: "c1", DocumentID: "d1", Ordinal: 0, Vector: []float32{0.5, 0.5}, Payload: map[string]string{"content_type": "text"}},
				{ChunkID: "c2", DocumentID: "d2", Ordinal: 1, Vector: []float32{0.25, 0.75}},
			}
			if err := b.Upsert(ctx, "kb1", in); err != nil {
				t.Fatal(err)
			}
			got := map[string]Record{}
			err := b.Scan(ctx, "kb1", func(r Record) error {
				got[r.ChunkID] = r
				return nil
			})
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("scanned %d records", len(got))
			}
			if got["c1"].DocumentID != "d1" || got["c1"].Ordinal != 0 {
				t.Errorf("c1 metadata: %+v", got["c1"])
			}
			if got["c1"].Payload["content_type"] != "text" {
				t.Errorf("c1 payload: %+v", got["c1"].Payload)
			}
		})
	}
}

func TestBoltBackend_persistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.bolt")

	b, err := NewBoltBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.EnsureCollection(ctx, "kb1", 2, MetricCosine); err != nil {
		t.Fatal(err)
	}
	if err := b.Upsert(ctx, "kb1", []Record{rec("c1", "d1", 0, []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := NewBoltBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()
	n, err := b2.Count(ctx, "kb1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected persisted record after reopen, got %d", n)
	}
}

func TestNewBackend_factory(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		wantErr bool
	}{
		{"memory", false},
		{"", false},
		{"bolt", false},
		{"qdrant", true}, // no address
		{"faiss", true},
	}
	for _, tt := range tests {
		b, err := NewBackend(storeCfg(tt.backend), dir)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewBackend(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
		}
		if b != nil {
			_ = b.Close()
		}
	}
}
