package backend

import (
	"context"
	"strings"
	"testing"

	"gastos/internal/config"
	"gastos/internal/remote/memory"
	"gastos/internal/remote/supabase"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	cfg, err := FromAppConfig(&config.Config{DataBackend: "memory", MemoryDemoPassword: "Demo1234"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != MemoryBackend || cfg.DemoPassword != "Demo1234" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"memory", Config{Type: MemoryBackend}, ""},
		{"supabase", Config{Type: SupabaseBackend, SupabaseURL: "https://x.supabase.co", SupabaseAnonKey: "k"}, ""},
		{"supabase without url", Config{Type: SupabaseBackend, SupabaseAnonKey: "k"}, "url is required"},
		{"supabase without key", Config{Type: SupabaseBackend, SupabaseURL: "https://x.supabase.co"}, "anon key is required"},
		{"unknown", Config{Type: "sqlite"}, "invalid backend type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	f := NewFactory(nil)
	ctx := context.Background()

	res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend, DemoPassword: "Demo1234"})
	if err != nil {
		t.Fatal(err)
	}
	store, ok := res.Backend.(*memory.Store)
	if !ok {
		t.Fatalf("backend = %T, want *memory.Store", res.Backend)
	}
	if _, err := store.SignIn(ctx, memory.DemoAdminEmail, "Demo1234"); err != nil {
		t.Errorf("demo admin cannot sign in: %v", err)
	}

	res, err = f.CreateBackend(ctx, Config{Type: SupabaseBackend, SupabaseURL: "https://x.supabase.co", SupabaseAnonKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Backend.(*supabase.Client); !ok {
		t.Errorf("backend = %T, want *supabase.Client", res.Backend)
	}
	if res.Cleanup == nil || res.Cleanup() != nil {
		t.Error("supabase backend should close idle connections on cleanup")
	}

	if got := GetBackendTypeStrings(); strings.Join(got, ",") != "supabase,memory" {
		t.Errorf("GetBackendTypeStrings() = %v", got)
	}
}
