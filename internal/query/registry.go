package query

import (
	"sort"
	"strings"
	"sync"
)

// Invalidator is implemented by every Store regardless of its value type.
type Invalidator interface {
	Name() string
	InvalidateMatching(pattern string) int
	InvalidateAll()
}

// Registry fans invalidations out to every registered store so that a
// mutation can drop, say, all "ingresos" keys without knowing which
// namespaces hold them.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Invalidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Invalidator)}
}

// Register adds stores, replacing any store with the same name.
func (r *Registry) Register(stores ...Invalidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range stores {
		r.stores[s.Name()] = s
	}
}

// Names lists the registered namespaces in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invalidate drops keys containing any of the patterns from every store and
// returns the number of cached values removed. With no patterns it clears
// everything.
func (r *Registry) Invalidate(patterns ...string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(patterns) == 0 {
		for _, s := range r.stores {
			s.InvalidateAll()
		}
		return 0
	}
	removed := 0
	for _, s := range r.stores {
		for _, p := range patterns {
			if strings.TrimSpace(p) == "" {
				continue
			}
			removed += s.InvalidateMatching(p)
		}
	}
	return removed
}
