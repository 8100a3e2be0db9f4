package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/models"
)

// MigrationState is the phase of a collection migration.
type MigrationState string

const (
	MigrationCopying   MigrationState = "copying"
	MigrationVerifying MigrationState = "verifying"
	MigrationCutover   MigrationState = "cutover"
	MigrationCompleted MigrationState = "completed"
	MigrationFailed    MigrationState = "failed"
)

// MigrationStatus is a snapshot of a migration's progress.
type MigrationStatus struct {
	Collection string         `json:"collection"`
	State      MigrationState `json:"status"`
	Progress   float64        `json:"progress_fraction"`
	Error      string         `json:"error,omitempty"`
}

// Migration is the handle returned by Router.Migrate. It is safe for
// concurrent polling.
type Migration struct {
	collection string

	mu     sync.Mutex
	state  MigrationState
	copied int
	total  int
	err    error
	done   chan struct{}
}

func newMigration(collection string) *Migration {
	return &Migration{
		collection: collection,
		state:      MigrationCopying,
		done:       make(chan struct{}),
	}
}

// Status returns a snapshot of the migration.
func (m *Migration) Status() MigrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := MigrationStatus{Collection: m.collection, State: m.state}
	switch m.state {
	case MigrationCompleted:
		s.Progress = 1
	case MigrationFailed:
		s.Progress = m.fractionLocked()
	default:
		s.Progress = m.fractionLocked()
	}
	if m.err != nil {
		s.Error = m.err.Error()
	}
	return s
}

func (m *Migration) fractionLocked() float64 {
	if m.total <= 0 {
		return 0
	}
	f := float64(m.copied) / float64(m.total)
	if f > 1 {
		f = 1
	}
	return f
}

// Wait blocks until the migration finishes or ctx is done. Returns the
// migration's terminal error, if any.
func (m *Migration) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Migration) setState(s MigrationState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Migration) setProgress(copied, total int) {
	m.mu.Lock()
	m.copied, m.total = copied, total
	m.mu.Unlock()
}

func (m *Migration) finish(err error) {
	m.mu.Lock()
	if err != nil {
		m.state = MigrationFailed
		m.err = err
	} else {
		m.state = MigrationCompleted
	}
	m.mu.Unlock()
	close(m.done)
}

// Migrate moves a collection to a newly configured backend without downtime.
// Reads keep hitting the source until the target is fully caught up; writes
// mirror to both from this call on. On failure the routing pointer rolls
// back and the source stays authoritative.
func (r *Router) Migrate(ctx context.Context, collection string, targetCfg models.StoreConfig) (*Migration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.routes.Load(collection)
	if !ok {
		return nil, fmt.Errorf("collection %q is not registered", collection)
	}
	rt := v.(*route)
	if rt.target != nil {
		return nil, fmt.Errorf("collection %q is already migrating", collection)
	}
	if rt.previous != nil {
		return nil, fmt.Errorf("collection %q has an unfinalized migration; finalize it first", collection)
	}

	target, err := NewBackend(targetCfg, r.dataDir)
	if err != nil {
		return nil, fmt.Errorf("create target backend: %w", err)
	}
	if err := target.EnsureCollection(ctx, collection, rt.dimensions, rt.metric); err != nil {
		_ = target.Close()
		return nil, fmt.Errorf("prepare target collection: %w", err)
	}

	m := newMigration(collection)
	r.migrations.Store(collection, m)

	// Single atomic transition: dual-writes start the moment this lands.
	r.routes.Store(collection, &route{
		active:     rt.active,
		dimensions: rt.dimensions,
		metric:     rt.metric,
		target:     target,
		previous:   rt.previous,
	})

	go r.runMigration(context.WithoutCancel(ctx), collection, rt.active, target, m)
	return m, nil
}

// MigrationStatus returns the latest migration handle for a collection.
func (r *Router) MigrationStatus(collection string) (MigrationStatus, bool) {
	v, ok := r.migrations.Load(collection)
	if !ok {
		return MigrationStatus{}, false
	}
	return v.(*Migration).Status(), true
}

func (r *Router) runMigration(ctx context.Context, collection string, src, tgt Backend, m *Migration) {
	copyPass := func() (int, error) {
		total, err := src.Count(ctx, collection)
		if err != nil {
			return 0, fmt.Errorf("count source: %w", err)
		}
		copied := 0
		batch := make([]Record, 0, 128)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := tgt.Upsert(ctx, collection, batch); err != nil {
				return fmt.Errorf("copy batch: %w", err)
			}
			copied += len(batch)
			m.setProgress(copied, total)
			batch = batch[:0]
			return nil
		}
		err = src.Scan(ctx, collection, func(rec Record) error {
			batch = append(batch, rec)
			if len(batch) == cap(batch) {
				return flush()
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("scan source: %w", err)
		}
		return copied, flush()
	}

	if _, err := copyPass(); err != nil {
		r.rollback(collection, src, tgt, m, err)
		return
	}

	// Writes that raced the initial pass were either mirrored or are caught
	// by re-copying here; the pass is idempotent by chunk id.
	m.setState(MigrationVerifying)
	if _, err := copyPass(); err != nil {
		r.rollback(collection, src, tgt, m, err)
		return
	}
	srcCount, err := src.Count(ctx, collection)
	if err != nil {
		r.rollback(collection, src, tgt, m, fmt.Errorf("count source: %w", err))
		return
	}
	tgtCount, err := tgt.Count(ctx, collection)
	if err != nil {
		r.rollback(collection, src, tgt, m, fmt.Errorf("count target: %w", err))
		return
	}
	if srcCount > tgtCount {
		r.rollback(collection, src, tgt, m, fmt.Errorf("%w: source has %d vectors, target has %d",
			models.ErrMigrationConsistency, srcCount, tgtCount))
		return
	}

	m.setState(MigrationCutover)
	r.mu.Lock()
	v, ok := r.routes.Load(collection)
	if !ok {
		r.mu.Unlock()
		r.rollback(collection, src, tgt, m, fmt.Errorf("collection %q disappeared during migration", collection))
		return
	}
	rt := v.(*route)
	r.routes.Store(collection, &route{
		active:     tgt,
		dimensions: rt.dimensions,
		metric:     rt.metric,
		previous:   src,
	})
	r.mu.Unlock()

	r.logger.Info("migration cutover complete",
		zap.String("collection", collection),
		zap.String("target", tgt.Type()),
		zap.Int("vectors", tgtCount))
	m.finish(nil)
}

// rollback restores the source-only route. The target keeps whatever was
// copied but nothing references it; its handle is closed.
func (r *Router) rollback(collection string, src, tgt Backend, m *Migration, cause error) {
	r.mu.Lock()
	if v, ok := r.routes.Load(collection); ok {
		rt := v.(*route)
		r.routes.Store(collection, &route{
			active:     src,
			dimensions: rt.dimensions,
			metric:     rt.metric,
			previous:   rt.previous,
		})
	}
	r.mu.Unlock()
	if src != tgt {
		_ = tgt.Close()
	}
	r.logger.Error("migration rolled back",
		zap.String("collection", collection), zap.Error(cause))
	m.finish(cause)
}

// Finalize releases the retained source backend after a completed
// migration, once the operator confirms no stale readers remain.
func (r *Router) Finalize(ctx context.Context, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.routes.Load(collection)
	if !ok {
		return fmt.Errorf("collection %q is not registered", collection)
	}
	rt := v.(*route)
	if rt.previous == nil {
		return fmt.Errorf("collection %q has no retained source to finalize", collection)
	}
	if rt.target != nil {
		return fmt.Errorf("collection %q is still migrating", collection)
	}
	prev := rt.previous
	r.routes.Store(collection, &route{
		active:     rt.active,
		dimensions: rt.dimensions,
		metric:     rt.metric,
	})
	if err := prev.DropCollection(ctx, collection); err != nil {
		r.logger.Warn("finalize: drop source collection failed",
			zap.String("collection", collection), zap.Error(err))
	}
	return prev.Close()
}
