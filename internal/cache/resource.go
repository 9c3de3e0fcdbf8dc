package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"gastos/internal/log"
	"gastos/internal/resilience"
)

// DefaultTTL is how long a fetched value is served without refetching.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNotMounted is returned by Fetch outside a Mount/Unmount lifecycle.
	ErrNotMounted = errors.New("resource not mounted")
	// ErrSuperseded is returned by a fetch whose result was discarded
	// because a newer fetch or an unmount replaced it.
	ErrSuperseded = errors.New("fetch superseded")
)

// Snapshot is the consumer view of a Resource.
type Snapshot[T any] struct {
	Data      T
	HasData   bool
	Loading   bool
	Err       error
	FetchedAt time.Time
}

// ResourceOptions configures a Resource.
type ResourceOptions struct {
	// Key names the durable entries. Without a key or a store nothing is persisted.
	Key     string
	TTL     time.Duration
	Durable Durable
	Now     func() time.Time
	Logger  *log.Logger
}

// Resource is one consumer's view of a fetched value: it serves the value
// for TTL, persists it, rehydrates it on mount and makes sure a stale
// fetch never overwrites newer state.
type Resource[T any] struct {
	fetch   func(context.Context) (T, error)
	key     string
	ttl     time.Duration
	durable Durable
	now     func() time.Time
	logger  *log.Logger

	persistMu sync.Mutex

	mu        sync.Mutex
	mounted   bool
	gen       uint64
	cancel    context.CancelFunc
	data      T
	hasData   bool
	loading   bool
	err       error
	fetchedAt time.Time
}

// NewResource creates an unmounted resource around fetch.
func NewResource[T any](fetch func(context.Context) (T, error), opts ResourceOptions) *Resource[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &Resource[T]{
		fetch:   fetch,
		key:     opts.Key,
		ttl:     opts.TTL,
		durable: opts.Durable,
		now:     opts.Now,
		logger:  opts.Logger.WithComponent(log.ComponentCache).With(log.FieldKey, opts.Key),
	}
}

// Key returns the durable key.
func (r *Resource[T]) Key() string {
	return r.key
}

func (r *Resource[T]) persistent() bool {
	return r.durable != nil && r.key != ""
}

// Mount starts a lifecycle. A persisted value younger than the TTL is
// adopted without fetching; otherwise the value is fetched.
func (r *Resource[T]) Mount(ctx context.Context) error {
	r.mu.Lock()
	if r.mounted {
		r.mu.Unlock()
		return nil
	}
	r.mounted = true
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	if r.persistent() {
		value, storedAt, err := Rehydrate[T](ctx, r.durable, r.key, r.ttl, r.now())
		if err == nil {
			r.mu.Lock()
			adopted := r.mounted && r.gen == gen
			if adopted {
				r.data, r.hasData, r.fetchedAt, r.err = value, true, storedAt, nil
			}
			r.mu.Unlock()
			if adopted {
				r.logger.DebugContext(ctx, "Rehydrated persisted value", log.FieldOperation, log.OpRehydrate)
				return nil
			}
			return ErrSuperseded
		}
		if !errors.Is(err, ErrNotPersisted) {
			r.logger.DebugContext(ctx, "Ignoring persisted value", log.FieldOperation, log.OpRehydrate, log.FieldError, err.Error())
		}
	}
	return r.Fetch(ctx, false)
}

// Unmount ends the lifecycle and cancels the fetch in flight, if any.
func (r *Resource[T]) Unmount() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounted = false
	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Mounted reports whether a lifecycle is active.
func (r *Resource[T]) Mounted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mounted
}

// Fetch loads a new value unless the current one is younger than the TTL
// and force is false. Any fetch still running is cancelled first and its
// result discarded.
func (r *Resource[T]) Fetch(ctx context.Context, force bool) error {
	r.mu.Lock()
	if !r.mounted {
		r.mu.Unlock()
		return ErrNotMounted
	}
	if !force && r.hasData && r.now().Sub(r.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	r.gen++
	gen := r.gen
	r.cancel = cancel
	r.loading = true
	r.err = nil
	r.mu.Unlock()
	defer cancel()

	value, err := r.fetch(fetchCtx)

	r.mu.Lock()
	if !r.mounted || r.gen != gen {
		r.mu.Unlock()
		return ErrSuperseded
	}
	r.cancel = nil
	r.loading = false
	switch {
	case err == nil:
		r.data, r.hasData, r.fetchedAt = value, true, r.now()
	case resilience.IsCanceled(err):
		// The caller went away; keep what we had.
	default:
		r.err = err
	}
	fetchedAt := r.fetchedAt
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.persist(ctx, gen, value, fetchedAt)
	return nil
}

// Refetch fetches regardless of the TTL.
func (r *Resource[T]) Refetch(ctx context.Context) error {
	return r.Fetch(ctx, true)
}

func (r *Resource[T]) persist(ctx context.Context, gen uint64, value T, at time.Time) {
	if !r.persistent() {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	current := r.gen == gen
	r.mu.Unlock()
	if !current {
		return
	}
	if err := Persist(context.WithoutCancel(ctx), r.durable, r.key, value, at); err != nil {
		r.logger.WarnContext(ctx, "Failed to persist cached value", log.FieldOperation, log.OpPersist, log.FieldError, err.Error())
	}
}

// Clear drops the in-memory and the persisted copies.
func (r *Resource[T]) Clear(ctx context.Context) error {
	r.mu.Lock()
	var zero T
	r.data, r.hasData, r.fetchedAt, r.err = zero, false, time.Time{}, nil
	r.mu.Unlock()

	if !r.persistent() {
		return nil
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if err := Forget(ctx, r.durable, r.key); err != nil {
		r.logger.WarnContext(ctx, "Failed to clear persisted value", log.FieldError, err.Error())
		return err
	}
	return nil
}

// Snapshot returns the current state.
func (r *Resource[T]) Snapshot() Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot[T]{
		Data:      r.data,
		HasData:   r.hasData,
		Loading:   r.loading,
		Err:       r.err,
		FetchedAt: r.fetchedAt,
	}
}
