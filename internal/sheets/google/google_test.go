package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
	"gastos/internal/export"
	"gastos/internal/log"

	goption "google.golang.org/api/option"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReadCredentials(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sa.json")
	if err := os.WriteFile(file, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr string
	}{
		{"inline wins", Config{CredentialsJSON: `{"inline":true}`, CredentialsFile: file}, `{"inline":true}`, ""},
		{"file", Config{CredentialsFile: file}, `{"type":"service_account"}`, ""},
		{"missing file", Config{CredentialsFile: filepath.Join(dir, "nope.json")}, "", "read service account file"},
		{"nothing", Config{}, "", "missing service account credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readCredentials(context.Background(), tt.cfg, log.Discard())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || string(got) != tt.want {
				t.Errorf("readCredentials = %q, %v", got, err)
			}
		})
	}
}

type fakeSheets struct {
	mu       sync.Mutex
	calls    []string
	titles   []string
	lastBody map[string]any
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet:
		f.calls = append(f.calls, "get")
		sheets := make([]map[string]any, len(f.titles))
		for i, t := range f.titles {
			sheets[i] = map[string]any{"properties": map[string]any{"title": t}}
		}
		json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case strings.HasSuffix(path, ":batchUpdate"):
		f.calls = append(f.calls, "add")
		io.WriteString(w, `{}`)
	case strings.HasSuffix(path, ":clear"):
		f.calls = append(f.calls, "clear")
		io.WriteString(w, `{}`)
	case r.Method == http.MethodPut:
		f.calls = append(f.calls, "update:"+r.URL.Query().Get("valueInputOption"))
		f.lastBody = map[string]any{}
		json.Unmarshal(body, &f.lastBody)
		io.WriteString(w, `{"updatedRange":"'2024-05'!A1:H12"}`)
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), Config{SpreadsheetID: "sheet-1"}, nil,
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func testReport() *export.MonthReport {
	return &export.MonthReport{
		Year:  2024,
		Month: 5,
		Incomes: []core.Income{{
			Amount:      decimal.NewFromInt(1000),
			Description: "Venta",
			Kind:        core.IncomeSale,
			Date:        core.NewDate(2024, 5, 2),
		}},
	}
}

func TestWriteMonth_CreatesTabOnce(t *testing.T) {
	fake := &fakeSheets{titles: []string{"2024-04"}}
	c := newTestClient(t, fake)
	ctx := context.Background()

	ref, err := c.WriteMonth(ctx, testReport())
	if err != nil {
		t.Fatal(err)
	}
	if ref != "'2024-05'!A1:H12" {
		t.Errorf("ref = %q", ref)
	}
	if _, err := c.WriteMonth(ctx, testReport()); err != nil {
		t.Fatal(err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	want := []string{"get", "add", "clear", "update:RAW", "clear", "update:RAW"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", fake.calls, want)
	}
	values, _ := fake.lastBody["values"].([]any)
	if len(values) != 10 {
		t.Fatalf("wrote %d rows, want 10", len(values))
	}
	first, _ := values[0].([]any)
	if len(first) != 8 || first[0] != export.ColType {
		t.Errorf("header = %v", first)
	}
}

func TestWriteMonth_ExistingTab(t *testing.T) {
	fake := &fakeSheets{titles: []string{"2024-05"}}
	c := newTestClient(t, fake)

	if _, err := c.WriteMonth(context.Background(), testReport()); err != nil {
		t.Fatal(err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, call := range fake.calls {
		if call == "add" {
			t.Fatalf("tab re-created: %v", fake.calls)
		}
	}
}

func TestTabs(t *testing.T) {
	fake := &fakeSheets{titles: []string{"2024-03", "2024-04"}}
	c := newTestClient(t, fake)
	tabs, err := c.Tabs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(tabs, ",") != "2024-03,2024-04" {
		t.Errorf("tabs = %v", tabs)
	}
}

func TestWriteMonth_Uninitialized(t *testing.T) {
	c := &Client{spreadsheetID: "x"}
	if _, err := c.WriteMonth(context.Background(), testReport()); err == nil {
		t.Fatal("expected error")
	}
}
