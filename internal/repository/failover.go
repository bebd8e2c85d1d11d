package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gymtrack/internal/domain"
	"gymtrack/internal/metrics"

	"github.com/rs/zerolog"
)

// FailoverStores composes two tiers; each namespace fails over independently.
type FailoverStores struct {
	primary  domain.StoreFactory
	fallback domain.StoreFactory
	recovery time.Duration
	logger   *zerolog.Logger

	mu     sync.Mutex
	stores map[string]*FailoverStore
}

func NewFailoverStores(primary, fallback domain.StoreFactory, recovery time.Duration, logger *zerolog.Logger) *FailoverStores {
	return &FailoverStores{
		primary:  primary,
		fallback: fallback,
		recovery: recovery,
		logger:   logger,
		stores:   make(map[string]*FailoverStore),
	}
}

func (f *FailoverStores) Namespace(name string) domain.Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[name]
	if !ok {
		logger := f.logger.With().Str("namespace", name).Logger()
		s = NewFailoverStore(name, f.primary.Namespace(name), f.fallback.Namespace(name), f.recovery, &logger)
		f.stores[name] = s
	}
	return s
}

// FailoverStore serves from primary until it errors, then from fallback.
// Keys written while the primary is down are tracked and copied back to the
// primary before it serves again, so recovery never resurrects stale data.
type FailoverStore struct {
	name      string
	primary   domain.Store
	fallback  domain.Store
	recovery  time.Duration
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time

	// mu guards dirty and orders degraded writes against reconciliation.
	mu    sync.Mutex
	dirty map[string]struct{}
}

func NewFailoverStore(name string, primary, fallback domain.Store, recovery time.Duration, logger *zerolog.Logger) *FailoverStore {
	if recovery <= 0 {
		recovery = time.Minute
	}
	return &FailoverStore{
		name:     name,
		primary:  primary,
		fallback: fallback,
		recovery: recovery,
		logger:   logger,
		now:      time.Now,
		dirty:    make(map[string]struct{}),
	}
}

// usePrimary reports whether the next call should try the primary tier.
// After the recovery interval the fallback-only writes are replayed onto the
// primary first; the primary stays bypassed until that succeeds.
func (r *FailoverStore) usePrimary(ctx context.Context) bool {
	if !r.isDown.Load() {
		return true
	}
	if r.now().Sub(time.Unix(0, r.lastCheck.Load())) <= r.recovery {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown.Load() {
		return true
	}
	if err := r.reconcileLocked(ctx); err != nil {
		r.markDown(err)
		return false
	}
	r.markUp()
	return true
}

// reconcileLocked copies every dirty key from the fallback to the primary.
func (r *FailoverStore) reconcileLocked(ctx context.Context) error {
	for key := range r.dirty {
		if err := r.syncKey(ctx, key); err != nil {
			return err
		}
		delete(r.dirty, key)
	}
	return nil
}

func (r *FailoverStore) syncKey(ctx context.Context, key string) error {
	val, ok, err := r.fallback.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read fallback %s: %w", key, err)
	}
	if !ok {
		return r.primary.Remove(ctx, key)
	}
	return r.primary.Set(ctx, key, val)
}

func (r *FailoverStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary store failed, falling back")
		metrics.IncStoreFailover(r.name)
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary store recovered")
	}
}

// Degraded reports whether the store currently serves from the fallback.
func (r *FailoverStore) Degraded() bool {
	return r.isDown.Load()
}

// writeFallback applies a write to the fallback and remembers the key. If the
// primary recovered while the write was waiting, the key is pushed at once.
func (r *FailoverStore) writeFallback(ctx context.Context, key string, write func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := write(); err != nil {
		return err
	}
	r.dirty[key] = struct{}{}
	if r.isDown.Load() {
		return nil
	}
	if err := r.syncKey(ctx, key); err != nil {
		r.markDown(err)
		return nil
	}
	delete(r.dirty, key)
	return nil
}

func (r *FailoverStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.usePrimary(ctx) {
		val, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			return val, ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Get(ctx, key)
}

func (r *FailoverStore) Set(ctx context.Context, key string, value []byte) error {
	if r.usePrimary(ctx) {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return r.writeFallback(ctx, key, func() error { return r.fallback.Set(ctx, key, value) })
}

func (r *FailoverStore) Remove(ctx context.Context, key string) error {
	if r.usePrimary(ctx) {
		err := r.primary.Remove(ctx, key)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return r.writeFallback(ctx, key, func() error { return r.fallback.Remove(ctx, key) })
}

// Iterate falls back only when the primary fails before visiting any entry,
// so fn never sees a mix of both tiers.
func (r *FailoverStore) Iterate(ctx context.Context, fn func(key string, value []byte) error) error {
	if r.usePrimary(ctx) {
		visited := false
		err := r.primary.Iterate(ctx, func(key string, value []byte) error {
			visited = true
			return fn(key, value)
		})
		if err == nil {
			return nil
		}
		if visited {
			return err
		}
		r.markDown(err)
	}
	return r.fallback.Iterate(ctx, fn)
}
