// Package query collapses concurrent identical backend reads into one
// in-flight call per key, rate limits repeated reads of the same key, and
// keeps the last successful value of each key for reuse.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gastos/internal/log"
)

// DefaultRateLimit is the minimum interval between two attempts for one key.
const DefaultRateLimit = time.Second

type entry[T any] struct {
	value    T
	storedAt time.Time
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Store holds the value cache, the in-flight calls and the rate-limit marks
// of one key namespace. The zero value is not usable; use NewStore.
type Store[T any] struct {
	name   string
	window time.Duration
	now    func() time.Time
	logger *log.Logger

	mu      sync.Mutex
	values  map[string]entry[T]
	pending map[string]*call[T]
	marks   map[string]time.Time
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	window time.Duration
	now    func() time.Time
	logger *log.Logger
}

// WithRateLimit sets the minimum interval between attempts for one key.
func WithRateLimit(d time.Duration) StoreOption {
	return func(o *storeOptions) { o.window = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) StoreOption {
	return func(o *storeOptions) { o.logger = l }
}

// NewStore creates an empty store. name is used in logs and by the Registry.
func NewStore[T any](name string, opts ...StoreOption) *Store[T] {
	o := storeOptions{window: DefaultRateLimit, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Discard()
	}
	return &Store[T]{
		name:    name,
		window:  o.window,
		now:     o.now,
		logger:  o.logger.WithComponent(log.ComponentQuery).With("store", name),
		values:  make(map[string]entry[T]),
		pending: make(map[string]*call[T]),
		marks:   make(map[string]time.Time),
	}
}

// Name returns the namespace name.
func (s *Store[T]) Name() string {
	return s.name
}

// Do returns the value for key. A call already in flight for key is joined
// instead of starting another one; within the rate-limit window the cached
// value is returned without calling fn. Otherwise fn runs once and its
// outcome is delivered to every caller waiting on key.
//
// fn runs detached from the cancellation of ctx so that other waiters are
// not affected when the first caller goes away; a cancelled caller stops
// waiting and gets ctx.Err().
func (s *Store[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	s.mu.Lock()
	if c, ok := s.pending[key]; ok {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "Joining in-flight query", log.FieldKey, key)
		return s.wait(ctx, c)
	}
	if last, ok := s.marks[key]; ok && s.now().Sub(last) < s.window {
		if e, ok := s.values[key]; ok {
			s.mu.Unlock()
			s.logger.DebugContext(ctx, "Serving rate-limited query from cache", log.FieldKey, key)
			return e.value, nil
		}
	}
	c := &call[T]{done: make(chan struct{})}
	s.pending[key] = c
	s.marks[key] = s.now()
	s.mu.Unlock()

	go s.run(context.WithoutCancel(ctx), key, c, fn)
	return s.wait(ctx, c)
}

func (s *Store[T]) run(ctx context.Context, key string, c *call[T], fn func(context.Context) (T, error)) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("query %s panicked: %v", key, r)
			s.settle(key, c)
		}
	}()

	c.val, c.err = fn(ctx)
	s.settle(key, c)
}

func (s *Store[T]) settle(key string, c *call[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.err == nil {
		s.values[key] = entry[T]{value: c.val, storedAt: s.now()}
	}
	// An invalidation may already have replaced the registration.
	if s.pending[key] == c {
		delete(s.pending, key)
	}
}

func (s *Store[T]) wait(ctx context.Context, c *call[T]) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the cached value for key without fetching.
func (s *Store[T]) Peek(key string) (T, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	return e.value, e.storedAt, ok
}

// Pending reports whether a call for key is in flight.
func (s *Store[T]) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Len returns the number of cached values.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Invalidate drops everything known about key. A call already running is
// not cancelled and repopulates the cache when it lands.
func (s *Store[T]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop(key)
}

// InvalidateMatching drops every key containing pattern and returns how many
// cached values were removed. An empty pattern matches everything.
func (s *Store[T]) InvalidateMatching(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.keys() {
		if pattern != "" && !strings.Contains(key, pattern) {
			continue
		}
		if _, ok := s.values[key]; ok {
			removed++
		}
		s.drop(key)
	}
	if removed > 0 {
		s.logger.Debug("Invalidated cached queries", log.FieldPattern, pattern, "removed", removed)
	}
	return removed
}

// InvalidateAll empties the store.
func (s *Store[T]) InvalidateAll() {
	s.InvalidateMatching("")
}

func (s *Store[T]) drop(key string) {
	delete(s.values, key)
	delete(s.marks, key)
	delete(s.pending, key)
}

// keys returns the union of keys across the three tables. Caller holds mu.
func (s *Store[T]) keys() map[string]struct{} {
	all := make(map[string]struct{}, len(s.values)+len(s.pending)+len(s.marks))
	for k := range s.values {
		all[k] = struct{}{}
	}
	for k := range s.pending {
		all[k] = struct{}{}
	}
	for k := range s.marks {
		all[k] = struct{}{}
	}
	return all
}
