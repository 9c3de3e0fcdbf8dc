package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gastos/internal/cache"
)

var _ cache.Durable = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "cache.db"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = (%v, %v)", ok, err)
	}
	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v2" {
		t.Fatalf("Get(k) = (%q, %v, %v), want v2", v, ok, err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key survived Delete")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of missing key error = %v", err)
	}
}

func TestStore_PersistedCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2024, 2, 10, 15, 30, 0, 0, time.UTC)

	type totals struct {
		Incomes  string `json:"incomes"`
		Expenses string `json:"expenses"`
	}
	in := totals{Incomes: "2500000", Expenses: "730000.25"}
	if err := cache.Persist(ctx, s, "cache_dashboard_admin_month", in, now); err != nil {
		t.Fatal(err)
	}
	out, _, err := cache.Rehydrate[totals](ctx, s, "cache_dashboard_admin_month", 5*time.Minute, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}
	if out != in {
		t.Errorf("Rehydrate() = %+v, want %+v", out, in)
	}
}

func TestStore_DeleteMatching(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, k := range []string{"dashboard_admin_month", "dashboard_admin_month_time", "ingresos_admin_u1", "ingresos_admin_u1_time"} {
		if err := s.Set(ctx, k, "x"); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.DeleteMatching(ctx, "dashboard")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DeleteMatching removed %d, want 2", n)
	}
	keys, err := s.Keys(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "ingresos_admin_u1" {
		t.Errorf("Keys() = %v", keys)
	}

	if n, _ := s.DeleteMatching(ctx, ""); n != 2 {
		t.Errorf("DeleteMatching(\"\") removed %d, want 2", n)
	}
}

func TestStore_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	s.Set(ctx, "old", "1")
	s.now = func() time.Time { return base.Add(time.Hour) }
	s.Set(ctx, "new", "2")

	n, err := s.PurgeOlderThan(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("PurgeOlderThan removed %d, want 1", n)
	}
	if keys, _ := s.Keys(ctx, "n"); len(keys) != 1 || keys[0] != "new" {
		t.Errorf("Keys(n) = %v", keys)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Set(ctx, "k", "kept")
	s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if v, ok, _ := s.Get(ctx, "k"); !ok || v != "kept" {
		t.Errorf("Get after reopen = (%q, %v)", v, ok)
	}
}
