// Package refresh decides when a consumer should ask for fresh data: when
// its page becomes visible, when it regains focus while visible, and on a
// fixed period while visible. It never deduplicates; the query store and
// the TTL resource absorb redundant requests.
package refresh

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the auto refresh period.
const DefaultInterval = 30 * time.Second

// Monitor tracks the visibility of one page.
type Monitor struct {
	mu      sync.Mutex
	visible bool
	nextID  int
	subs    map[int]func()
}

// NewMonitor creates a monitor with the given initial visibility.
func NewMonitor(visible bool) *Monitor {
	return &Monitor{visible: visible, subs: make(map[int]func())}
}

// Visible reports the current visibility.
func (m *Monitor) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// SetVisible records a visibility change. Subscribers run when the page
// goes from hidden to visible.
func (m *Monitor) SetVisible(visible bool) {
	m.mu.Lock()
	becameVisible := visible && !m.visible
	m.visible = visible
	subs := m.snapshot()
	m.mu.Unlock()

	if becameVisible {
		for _, fn := range subs {
			fn()
		}
	}
}

// Focus records a focus event. It is ignored while the page is hidden.
func (m *Monitor) Focus() {
	m.mu.Lock()
	visible := m.visible
	subs := m.snapshot()
	m.mu.Unlock()

	if visible {
		for _, fn := range subs {
			fn()
		}
	}
}

// OnVisible subscribes fn to visibility and focus triggers and returns a
// function that unsubscribes it.
func (m *Monitor) OnVisible(fn func()) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) snapshot() []func() {
	subs := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

// AutoRefresh calls fn every interval while the page is visible at tick
// time, until ctx is done. Ticks that fall while hidden are dropped, and a
// slow fn never causes ticks to pile up.
func AutoRefresh(ctx context.Context, m *Monitor, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Visible() {
				fn()
			}
		}
	}
}
