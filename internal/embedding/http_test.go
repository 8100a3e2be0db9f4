package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/chie/internal/models"
)

func embedServer(t *testing.T, dims int, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			http.Error(w, `{"error":{"message":"unauthorized"}}`, http.StatusUnauthorized)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := embedResponse{}
		for i, text := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(len(text))
			vec[1] = 1
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: vec})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPEmbedder_batchAndCache(t *testing.T) {
	ctx := context.Background()
	var requests atomic.Int64
	srv := embedServer(t, 4, &requests)
	defer srv.Close()

	e, err := NewHTTPEmbedder(srv.URL, "test-key", "remote-model", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	vecs, err := e.EmbedBatch(ctx, []string{"one", "three"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 4 {
		t.Fatalf("vectors: %v", vecs)
	}
	if requests.Load() != 1 {
		t.Errorf("expected one wire request, got %d", requests.Load())
	}

	// A repeat batch with one new text only sends the miss.
	if _, err := e.EmbedBatch(ctx, []string{"one", "three", "seven"}); err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 2 {
		t.Errorf("expected two wire requests, got %d", requests.Load())
	}
	if _, err := e.Embed(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 2 {
		t.Errorf("cached single embed should not hit the wire")
	}
}

func TestHTTPEmbedder_errorClassification(t *testing.T) {
	ctx := context.Background()
	srv := embedServer(t, 4, nil)
	defer srv.Close()

	e, err := NewHTTPEmbedder(srv.URL, "wrong-key", "remote-model", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	_, err = e.Embed(ctx, "anything")
	if err == nil {
		t.Fatal("expected error from unauthorized endpoint")
	}
	if !errors.Is(err, models.ErrEmbedding) {
		t.Errorf("error not classified as embedding failure: %v", err)
	}
}

func TestHTTPEmbedder_dimensionMismatchRejected(t *testing.T) {
	ctx := context.Background()
	srv := embedServer(t, 4, nil)
	defer srv.Close()

	// Embedder declares 8 dimensions but the server returns 4.
	e, err := NewHTTPEmbedder(srv.URL, "test-key", "remote-model", 8)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.Embed(ctx, "anything"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestNewHTTPEmbedder_validation(t *testing.T) {
	if _, err := NewHTTPEmbedder("", "", "m", 4); err == nil {
		t.Error("empty endpoint must fail")
	}
	if _, err := NewHTTPEmbedder("http://localhost:1", "", "m", 0); err == nil {
		t.Error("zero dimensions must fail")
	}
}
