package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gastos/internal/export"
)

// Store keeps written month tabs in memory.
type Store struct {
	mu     sync.Mutex
	tabs   map[string][][]string
	writes int
	err    error
}

func New() *Store {
	return &Store{tabs: make(map[string][][]string)}
}

// FailWith makes subsequent writes return err. nil restores success.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// WriteMonth stores the report's header and cells under its tab name.
func (s *Store) WriteMonth(_ context.Context, r *export.MonthReport) (string, error) {
	header, cells := export.Table(r.Rows())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	values := make([][]string, 0, len(cells)+1)
	values = append(values, header)
	values = append(values, cells...)
	s.tabs[r.Tab()] = values
	s.writes++
	return fmt.Sprintf("mem:%s!A1:H%d", r.Tab(), len(values)), nil
}

// Tabs lists the written tabs in order.
func (s *Store) Tabs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tabs))
	for name := range s.tabs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Tab returns a copy of the rows of a tab.
func (s *Store) Tab(name string) ([][]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tabs[name]
	if !ok {
		return nil, false
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, true
}

// Writes counts successful writes.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
