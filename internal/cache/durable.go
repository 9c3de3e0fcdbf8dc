package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Durable is a string key/value store that outlives the process.
type Durable interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Reasons a persisted value is not used.
var (
	ErrNotPersisted = errors.New("no persisted value")
	ErrExpired      = errors.New("persisted value expired")
	ErrMalformed    = errors.New("persisted value malformed")
)

const timeSuffix = "_time"

// TimeKey is the key holding the capture time of key.
func TimeKey(key string) string {
	return key + timeSuffix
}

// Persist stores value as JSON under key and its capture time, in epoch
// milliseconds, under TimeKey(key).
func Persist[T any](ctx context.Context, d Durable, key string, value T, at time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := d.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	if err := d.Set(ctx, TimeKey(key), strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("persist %s: %w", TimeKey(key), err)
	}
	return nil
}

// Rehydrate loads the value persisted under key if it is younger than ttl.
// Every failure, including a storage error, means the caller should fetch.
func Rehydrate[T any](ctx context.Context, d Durable, key string, ttl time.Duration, now time.Time) (T, time.Time, error) {
	var zero T

	raw, ok, err := d.Get(ctx, key)
	if err != nil {
		return zero, time.Time{}, fmt.Errorf("read %s: %w", key, err)
	}
	rawTime, okTime, err := d.Get(ctx, TimeKey(key))
	if err != nil {
		return zero, time.Time{}, fmt.Errorf("read %s: %w", TimeKey(key), err)
	}
	if !ok || !okTime {
		return zero, time.Time{}, ErrNotPersisted
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(rawTime), 10, 64)
	if err != nil {
		return zero, time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, rawTime)
	}
	storedAt := time.UnixMilli(ms)
	if now.Sub(storedAt) >= ttl {
		return zero, storedAt, ErrExpired
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return zero, storedAt, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return value, storedAt, nil
}

// Forget removes both entries of key.
func Forget(ctx context.Context, d Durable, key string) error {
	return errors.Join(d.Delete(ctx, key), d.Delete(ctx, TimeKey(key)))
}

// MemoryDurable is a Durable kept in process memory.
type MemoryDurable struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryDurable creates an empty store.
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{data: make(map[string]string)}
}

func (m *MemoryDurable) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryDurable) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryDurable) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// DeleteMatching removes every key containing pattern, or every key when
// pattern is empty.
func (m *MemoryDurable) DeleteMatching(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if pattern == "" || strings.Contains(k, pattern) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}
