package memory

import (
	"context"
	"errors"
	"testing"

	"gastos/internal/export"
)

func TestStoreWriteMonth(t *testing.T) {
	s := New()
	ref, err := s.WriteMonth(context.Background(), &export.MonthReport{Year: 2024, Month: 5})
	if err != nil {
		t.Fatal(err)
	}
	if ref != "mem:2024-05!A1:H9" {
		t.Errorf("ref = %q", ref)
	}
	rows, ok := s.Tab("2024-05")
	if !ok || rows[0][0] != export.ColType || rows[1][0] != "=== RESUMEN DEL MES ===" {
		t.Fatalf("tab = %v", rows)
	}
	tabs, _ := s.Tabs(context.Background())
	if len(tabs) != 1 || s.Writes() != 1 {
		t.Errorf("tabs = %v, writes = %d", tabs, s.Writes())
	}

	s.FailWith(errors.New("quota"))
	if _, err := s.WriteMonth(context.Background(), &export.MonthReport{Year: 2024, Month: 6}); err == nil {
		t.Error("expected failure")
	}
	if s.Writes() != 1 {
		t.Errorf("writes = %d after failure", s.Writes())
	}
}
