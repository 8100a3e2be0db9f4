package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/pkg/utils"
)

func testRetryOpts() utils.RetryOpts {
	return utils.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
}

func TestRouter_addAndRoute(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(t.TempDir(), WithRetryOpts(testRetryOpts()))
	defer r.Close()

	if err := r.AddCollection(ctx, "kb1", storeCfg("memory"), 2); err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	// Re-adding with matching dimensions is a no-op.
	if err := r.AddCollection(ctx, "kb1", storeCfg("memory"), 2); err != nil {
		t.Errorf("re-add: %v", err)
	}
	if err := r.AddCollection(ctx, "kb1", storeCfg("memory"), 5); err == nil {
		t.Error("expected error re-adding with different dimensions")
	}

	if err := r.Upsert(ctx, "kb1", []Record{rec("c1", "d1", 0, []float32{1, 0})}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	results, err := r.Search(ctx, "kb1", []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Errorf("search results: %+v", results)
	}
	if dims, _ := r.Dimensions("kb1"); dims != 2 {
		t.Errorf("dimensions: got %d", dims)
	}

	if _, err := r.Search(ctx, "nope", []float32{1, 0}, 5, nil); err == nil {
		t.Error("expected error for unregistered collection")
	}
}

func TestRouter_removeCollection(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(t.TempDir(), WithRetryOpts(testRetryOpts()))
	defer r.Close()

	if err := r.AddCollection(ctx, "kb1", storeCfg("bolt"), 2); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(ctx, "kb1", []Record{rec("c1", "d1", 0, []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveCollection(ctx, "kb1"); err != nil {
		t.Fatalf("RemoveCollection: %v", err)
	}
	// Removing twice is a no-op.
	if err := r.RemoveCollection(ctx, "kb1"); err != nil {
		t.Errorf("second remove: %v", err)
	}
	if _, err := r.Count(ctx, "kb1"); err == nil {
		t.Error("expected unregistered error after remove")
	}
}

// flakyBackend wraps a backend and fails the first n upserts with a
// transient store error.
type flakyBackend struct {
	Backend
	failures int
	calls    int
}

func (f *flakyBackend) Upsert(ctx context.Context, collection string, records []Record) error {
	f.calls++
	if f.calls <= f.failures {
		return storeErr("upsert", fmt.Errorf("connection reset"))
	}
	return f.Backend.Upsert(ctx, collection, records)
}

func TestRouter_retriesTransientStoreErrors(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(t.TempDir(), WithRetryOpts(testRetryOpts()))
	defer r.Close()

	flaky := &flakyBackend{Backend: NewMemoryBackend(), failures: 2}
	if err := flaky.EnsureCollection(ctx, "kb1", 2, MetricCosine); err != nil {
		t.Fatal(err)
	}
	r.routes.Store("kb1", &route{active: flaky, dimensions: 2, metric: MetricCosine})

	if err := r.Upsert(ctx, "kb1", []Record{rec("c1", "d1", 0, []float32{1, 0})}); err != nil {
		t.Fatalf("upsert should succeed after retries: %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", flaky.calls)
	}
	if !errors.Is(storeErr("upsert", fmt.Errorf("x")), models.ErrStoreUnavailable) {
		t.Error("storeErr must wrap ErrStoreUnavailable")
	}
}

func TestRouter_permanentErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(t.TempDir(), WithRetryOpts(testRetryOpts()))
	defer r.Close()

	if err := r.AddCollection(ctx, "kb1", storeCfg("memory"), 3); err != nil {
		t.Fatal(err)
	}
	// Dimension mismatch is permanent; it must surface on the first try.
	err := r.Upsert(ctx, "kb1", []Record{rec("c1", "d1", 0, []float32{1, 0})})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("mismatch should not be classified transient: %v", err)
	}
}
