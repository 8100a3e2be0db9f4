package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/pkg/utils"
)

// route is an immutable snapshot of a collection's routing state. Readers
// load it atomically; the router replaces the whole value in one store, so a
// reader never observes a half-migrated state.
type route struct {
	active     Backend
	dimensions int
	metric     Metric
	// target is non-nil while a migration dual-writes to it.
	target Backend
	// previous is the source backend retained read-only after cutover,
	// until Finalize releases it.
	previous Backend
}

// Router is the sole writer of collection routing state. Every upsert,
// delete, and search goes through it; migrations swap the active backend
// underneath readers without interrupting them.
type Router struct {
	mu         sync.Mutex // serializes route transitions
	routes     sync.Map   // collection -> *route
	migrations sync.Map   // collection -> *Migration
	dataDir    string
	retry      utils.RetryOpts
	logger     *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// WithRetryOpts sets the retry budget for transient backend errors.
func WithRetryOpts(opts utils.RetryOpts) RouterOption {
	return func(r *Router) { r.retry = opts }
}

// NewRouter creates a Router. dataDir hosts disk-backed backend files.
func NewRouter(dataDir string, opts ...RouterOption) *Router {
	r := &Router{
		dataDir: dataDir,
		retry:   utils.DefaultRetryOpts,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddCollection creates a backend per the store config, ensures the
// collection exists in it, and registers the route. Adding an existing
// collection is a no-op when the dimensions match.
func (r *Router) AddCollection(ctx context.Context, collection string, cfg models.StoreConfig, dimensions int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.routes.Load(collection); ok {
		rt := v.(*route)
		if rt.dimensions != dimensions {
			return fmt.Errorf("collection %q registered with dimensions %d, requested %d", collection, rt.dimensions, dimensions)
		}
		return nil
	}
	backend, err := NewBackend(cfg, r.dataDir)
	if err != nil {
		return err
	}
	metric := MetricFromConfig(cfg.Metric)
	if err := r.do(ctx, func() error {
		return backend.EnsureCollection(ctx, collection, dimensions, metric)
	}); err != nil {
		_ = backend.Close()
		return err
	}
	r.routes.Store(collection, &route{active: backend, dimensions: dimensions, metric: metric})
	return nil
}

// RemoveCollection drops the collection's data and releases its backends.
func (r *Router) RemoveCollection(ctx context.Context, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.routes.Load(collection)
	if !ok {
		return nil
	}
	rt := v.(*route)
	if rt.target != nil {
		return fmt.Errorf("collection %q is migrating; wait or roll back first", collection)
	}
	r.routes.Delete(collection)
	r.migrations.Delete(collection)
	var errs []error
	for _, b := range []Backend{rt.active, rt.previous} {
		if b == nil {
			continue
		}
		if err := b.DropCollection(ctx, collection); err != nil {
			errs = append(errs, err)
		}
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) route(collection string) (*route, error) {
	v, ok := r.routes.Load(collection)
	if !ok {
		return nil, fmt.Errorf("collection %q is not registered", collection)
	}
	return v.(*route), nil
}

// Upsert writes records to the active backend, mirroring to the migration
// target while one is attached. A mirror failure does not fail the caller;
// the migration's verification pass re-copies anything missed.
func (r *Router) Upsert(ctx context.Context, collection string, records []Record) error {
	rt, err := r.route(collection)
	if err != nil {
		return err
	}
	if err := r.do(ctx, func() error {
		return rt.active.Upsert(ctx, collection, records)
	}); err != nil {
		return err
	}
	if rt.target != nil {
		if err := rt.target.Upsert(ctx, collection, records); err != nil {
			r.logger.Warn("migration mirror upsert failed",
				zap.String("collection", collection), zap.Error(err))
		}
	}
	return nil
}

// Delete removes vectors from the active backend (and the migration target
// while one is attached). Deleting unknown ids is a no-op.
func (r *Router) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	rt, err := r.route(collection)
	if err != nil {
		return err
	}
	if err := r.do(ctx, func() error {
		return rt.active.Delete(ctx, collection, chunkIDs)
	}); err != nil {
		return err
	}
	if rt.target != nil {
		if err := rt.target.Delete(ctx, collection, chunkIDs); err != nil {
			r.logger.Warn("migration mirror delete failed",
				zap.String("collection", collection), zap.Error(err))
		}
	}
	return nil
}

// Search queries the active backend. During a migration reads stay on the
// source until cutover. Results are ordered by descending score with ties
// broken by earliest ordinal.
func (r *Router) Search(ctx context.Context, collection string, query []float32, topK int, filters map[string]string) ([]Result, error) {
	rt, err := r.route(collection)
	if err != nil {
		return nil, err
	}
	var results []Result
	err = r.do(ctx, func() error {
		var serr error
		results, serr = rt.active.Search(ctx, collection, query, topK, filters)
		return serr
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Count returns the active backend's vector count for a collection.
func (r *Router) Count(ctx context.Context, collection string) (int, error) {
	rt, err := r.route(collection)
	if err != nil {
		return 0, err
	}
	return rt.active.Count(ctx, collection)
}

// Dimensions returns the collection's declared dimensionality.
func (r *Router) Dimensions(collection string) (int, error) {
	rt, err := r.route(collection)
	if err != nil {
		return 0, err
	}
	return rt.dimensions, nil
}

// Collections lists registered collection names.
func (r *Router) Collections() []string {
	var names []string
	r.routes.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	return names
}

// Close releases every backend.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	seen := map[Backend]bool{}
	r.routes.Range(func(k, v any) bool {
		rt := v.(*route)
		for _, b := range []Backend{rt.active, rt.target, rt.previous} {
			if b == nil || seen[b] {
				continue
			}
			seen[b] = true
			if err := b.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.routes.Delete(k)
		return true
	})
	return errors.Join(errs...)
}

// do runs fn, retrying transient store errors with backoff. Other errors
// surface immediately.
func (r *Router) do(ctx context.Context, fn func() error) error {
	var permanent error
	err := utils.Retry(ctx, r.retry, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			return err
		}
		permanent = err
		return nil
	})
	if permanent != nil {
		return permanent
	}
	return err
}
