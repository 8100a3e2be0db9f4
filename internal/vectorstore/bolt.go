package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hyperjump/chie/pkg/utils"
)

// metaBucket holds per-collection dimensionality and metric.
const metaBucket = "_collections"

// BoltBackend is a disk-backed backend on bbolt. One bucket per collection,
// keyed by chunk id. Search is a full-bucket scan, which is fine for the
// local collection sizes this backend targets.
type BoltBackend struct {
	db *bolt.DB
}

type collMeta struct {
	Dimensions int    `json:"dimensions"`
	Metric     Metric `json:"metric"`
}

// recordHeader is the fixed part of the stored value; the vector bytes
// follow it.
type recordHeader struct {
	DocumentID string            `json:"document_id"`
	Ordinal    int               `json:"ordinal"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// NewBoltBackend opens (or creates) the bbolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create vector data dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// Type returns the backend type identifier.
func (b *BoltBackend) Type() string { return "bolt" }

func (b *BoltBackend) meta(tx *bolt.Tx, collection string) (*collMeta, error) {
	mb := tx.Bucket([]byte(metaBucket))
	if mb == nil {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}
	raw := mb.Get([]byte(collection))
	if raw == nil {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}
	var m collMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode collection meta: %w", err)
	}
	return &m, nil
}

// EnsureCollection creates the collection bucket and records its meta.
func (b *BoltBackend) EnsureCollection(ctx context.Context, collection string, dimensions int, metric Metric) error {
	if dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricCosine
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		mb, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		if raw := mb.Get([]byte(collection)); raw != nil {
			var m collMeta
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			if m.Dimensions != dimensions {
				return fmt.Errorf("collection %q exists with dimensions %d, requested %d", collection, m.Dimensions, dimensions)
			}
			return nil
		}
		raw, err := json.Marshal(collMeta{Dimensions: dimensions, Metric: metric})
		if err != nil {
			return err
		}
		if err := mb.Put([]byte(collection), raw); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists([]byte(collection))
		return err
	})
}

// DropCollection deletes the collection bucket and its meta entry.
func (b *BoltBackend) DropCollection(ctx context.Context, collection string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if mb := tx.Bucket([]byte(metaBucket)); mb != nil {
			if err := mb.Delete([]byte(collection)); err != nil {
				return err
			}
		}
		err := tx.DeleteBucket([]byte(collection))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Upsert writes records keyed by chunk id, replacing existing values.
func (b *BoltBackend) Upsert(ctx context.Context, collection string, records []Record) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		m, err := b.meta(tx, collection)
		if err != nil {
			return err
		}
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("collection %q does not exist", collection)
		}
		for _, r := range records {
			if err := checkDimensions(len(r.Vector), m.Dimensions); err != nil {
				return fmt.Errorf("chunk %s: %w", r.ChunkID, err)
			}
			vec := make([]float32, len(r.Vector))
			copy(vec, r.Vector)
			if m.Metric == MetricCosine {
				utils.NormalizeL2(vec)
			}
			val, err := encodeRecord(r, vec)
			if err != nil {
				return err
			}
			if err := bkt.Put([]byte(r.ChunkID), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes records by chunk id; missing ids are ignored.
func (b *BoltBackend) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("collection %q does not exist", collection)
		}
		for _, id := range chunkIDs {
			if err := bkt.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search scans the whole bucket and returns the top-k results, ties broken
// by earliest ordinal.
func (b *BoltBackend) Search(ctx context.Context, collection string, query []float32, topK int, filters map[string]string) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	var results []Result
	err := b.db.View(func(tx *bolt.Tx) error {
		m, err := b.meta(tx, collection)
		if err != nil {
			return err
		}
		if err := checkDimensions(len(query), m.Dimensions); err != nil {
			return err
		}
		q := query
		if m.Metric == MetricCosine {
			q = make([]float32, len(query))
			copy(q, query)
			utils.NormalizeL2(q)
		}
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("collection %q does not exist", collection)
		}
		return bkt.ForEach(func(k, v []byte) error {
			r, vec, err := decodeRecord(string(k), v)
			if err != nil {
				return err
			}
			if !filterMatch(r, filters) {
				return nil
			}
			results = append(results, Result{
				ChunkID:    r.ChunkID,
				DocumentID: r.DocumentID,
				Ordinal:    r.Ordinal,
				Score:      utils.Dot(q, vec),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortResults(results)
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of records in a collection.
func (b *BoltBackend) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("collection %q does not exist", collection)
		}
		n = bkt.Stats().KeyN
		return nil
	})
	return n, err
}

// Scan visits every record in key order.
func (b *BoltBackend) Scan(ctx context.Context, collection string, fn func(Record) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("collection %q does not exist", collection)
		}
		return bkt.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, vec, err := decodeRecord(string(k), v)
			if err != nil {
				return err
			}
			r.Vector = vec
			return fn(r)
		})
	})
}

// Close closes the underlying bbolt database.
func (b *BoltBackend) Close() error { return b.db.Close() }

// encodeRecord serializes a record as a JSON header (length-prefixed)
// followed by little-endian vector bytes.
func encodeRecord(r Record, vec []float32) ([]byte, error) {
	header, err := json.Marshal(recordHeader{
		DocumentID: r.DocumentID,
		Ordinal:    r.Ordinal,
		Payload:    r.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record header: %w", err)
	}
	out := make([]byte, 4+len(header)+len(vec)*4)
	binary.LittleEndian.PutUint32(out, uint32(len(header)))
	copy(out[4:], header)
	off := 4 + len(header)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[off+i*4:], math.Float32bits(v))
	}
	return out, nil
}

func decodeRecord(chunkID string, val []byte) (Record, []float32, error) {
	if len(val) < 4 {
		return Record{}, nil, fmt.Errorf("record %s: truncated value", chunkID)
	}
	hlen := int(binary.LittleEndian.Uint32(val))
	if len(val) < 4+hlen {
		return Record{}, nil, fmt.Errorf("record %s: truncated header", chunkID)
	}
	var h recordHeader
	if err := json.Unmarshal(val[4:4+hlen], &h); err != nil {
		return Record{}, nil, fmt.Errorf("record %s: decode header: %w", chunkID, err)
	}
	raw := val[4+hlen:]
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return Record{
		ChunkID:    chunkID,
		DocumentID: h.DocumentID,
		Ordinal:    h.Ordinal,
		Payload:    h.Payload,
	}, vec, nil
}
