package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/chie/pkg/utils"
)

// MemoryBackend is a process-embedded backend using brute-force search.
// Suitable for tests and small collections.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dimensions int
	metric     Metric
	records    map[string]Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memCollection)}
}

// Type returns the backend type identifier.
func (m *MemoryBackend) Type() string { return "memory" }

// EnsureCollection creates the collection if missing. Re-ensuring with a
// different dimensionality is an error.
func (m *MemoryBackend) EnsureCollection(ctx context.Context, collection string, dimensions int, metric Metric) error {
	if dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[collection]; ok {
		if c.dimensions != dimensions {
			return fmt.Errorf("collection %q exists with dimensions %d, requested %d", collection, c.dimensions, dimensions)
		}
		return nil
	}
	if metric == "" {
		metric = MetricCosine
	}
	m.collections[collection] = &memCollection{
		dimensions: dimensions,
		metric:     metric,
		records:    make(map[string]Record),
	}
	return nil
}

// DropCollection removes a collection. Dropping a missing collection is a no-op.
func (m *MemoryBackend) DropCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *MemoryBackend) coll(collection string) (*memCollection, error) {
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}
	return c, nil
}

// Upsert inserts or replaces records by chunk id. Cosine collections store
// normalized copies so search reduces to an inner product.
func (m *MemoryBackend) Upsert(ctx context.Context, collection string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.coll(collection)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := checkDimensions(len(r.Vector), c.dimensions); err != nil {
			return fmt.Errorf("chunk %s: %w", r.ChunkID, err)
		}
		vec := make([]float32, c.dimensions)
		copy(vec, r.Vector)
		if c.metric == MetricCosine {
			utils.NormalizeL2(vec)
		}
		stored := r
		stored.Vector = vec
		c.records[r.ChunkID] = stored
	}
	return nil
}

// Delete removes records by chunk id; missing ids are ignored.
func (m *MemoryBackend) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.coll(collection)
	if err != nil {
		return err
	}
	for _, id := range chunkIDs {
		delete(c.records, id)
	}
	return nil
}

// Search scores every record and returns the top-k. Ties break by earliest
// chunk ordinal for deterministic ordering.
func (m *MemoryBackend) Search(ctx context.Context, collection string, query []float32, topK int, filters map[string]string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.coll(collection)
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(len(query), c.dimensions); err != nil {
		return nil, err
	}
	if topK <= 0 || len(c.records) == 0 {
		return nil, nil
	}

	q := query
	if c.metric == MetricCosine {
		q = make([]float32, len(query))
		copy(q, query)
		utils.NormalizeL2(q)
	}

	results := make([]Result, 0, len(c.records))
	for _, r := range c.records {
		if !filterMatch(r, filters) {
			continue
		}
		results = append(results, Result{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Ordinal:    r.Ordinal,
			Score:      utils.Dot(q, r.Vector),
		})
	}
	sortResults(results)
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of records in a collection.
func (m *MemoryBackend) Count(ctx context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.coll(collection)
	if err != nil {
		return 0, err
	}
	return len(c.records), nil
}

// Scan visits every record in stable chunk-id order.
func (m *MemoryBackend) Scan(ctx context.Context, collection string, fn func(Record) error) error {
	m.mu.RLock()
	c, err := m.coll(collection)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, c.records[id])
	}
	m.mu.RUnlock()

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for MemoryBackend.
func (m *MemoryBackend) Close() error { return nil }

// sortResults orders by descending score, then ascending ordinal, then chunk
// id as the final stable key.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Ordinal != results[j].Ordinal {
			return results[i].Ordinal < results[j].Ordinal
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
