//go:build integration

package google

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"gastos/internal/export"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_WriteMonth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}
	cfg := Config{
		SpreadsheetID:   spreadsheetID,
		CredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	client, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	// A far-past month keeps the test away from real data.
	r := &export.MonthReport{Year: 1999, Month: 1}
	ref, err := client.WriteMonth(ctx, r)
	if err != nil {
		t.Fatalf("WriteMonth: %v", err)
	}
	t.Logf("Wrote %s", ref)

	tabs, err := client.Tabs(ctx)
	if err != nil {
		t.Fatalf("Tabs: %v", err)
	}
	if !slices.Contains(tabs, r.Tab()) {
		t.Errorf("tab %s missing from %v", r.Tab(), tabs)
	}
}
