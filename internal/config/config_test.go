package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Port:              "8081",
		DataBackend:       BackendSupabase,
		SupabaseURL:       "https://project.supabase.co",
		SupabaseAnonKey:   "anon-key",
		QueryTimeout:      30 * time.Second,
		ReportTimeout:     60 * time.Second,
		RetryMaxAttempts:  3,
		RetryBaseDelay:    time.Second,
		ReconnectCeiling:  3,
		QueryRateLimit:    time.Second,
		ConnectivityProbe: 15 * time.Second,
		CacheDBPath:       filepath.Join(t.TempDir(), "cache.db"),
		CacheTTL:          5 * time.Minute,
		AutoRefresh:       30 * time.Second,
		SessionTTL:        12 * time.Hour,
		MaxSessions:       100,
		AMQPExchange:      "gastos.changes",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		errorString string
	}{
		{
			name:    "valid supabase config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "valid memory backend without supabase",
			mutate: func(c *Config) {
				c.DataBackend = BackendMemory
				c.SupabaseURL = ""
				c.SupabaseAnonKey = ""
			},
			wantErr: false,
		},
		{
			name:        "missing supabase url",
			mutate:      func(c *Config) { c.SupabaseURL = "" },
			wantErr:     true,
			errorString: "SUPABASE_URL is required",
		},
		{
			name:        "missing anon key",
			mutate:      func(c *Config) { c.SupabaseAnonKey = "" },
			wantErr:     true,
			errorString: "SUPABASE_ANON_KEY is required",
		},
		{
			name:        "supabase url without scheme",
			mutate:      func(c *Config) { c.SupabaseURL = "project.supabase.co" },
			wantErr:     true,
			errorString: "invalid SUPABASE_URL 'project.supabase.co'",
		},
		{
			name:        "invalid port - non-numeric",
			mutate:      func(c *Config) { c.Port = "abc" },
			wantErr:     true,
			errorString: "invalid port 'abc': must be a number",
		},
		{
			name:        "invalid port - out of range",
			mutate:      func(c *Config) { c.Port = "70000" },
			wantErr:     true,
			errorString: "invalid port 70000: must be between 1 and 65535",
		},
		{
			name:        "invalid data backend",
			mutate:      func(c *Config) { c.DataBackend = "sheets" },
			wantErr:     true,
			errorString: "invalid data backend 'sheets': must be one of [supabase memory]",
		},
		{
			name:        "report timeout shorter than query timeout",
			mutate:      func(c *Config) { c.ReportTimeout = 10 * time.Second },
			wantErr:     true,
			errorString: "invalid report timeout 10s",
		},
		{
			name:        "zero retry attempts",
			mutate:      func(c *Config) { c.RetryMaxAttempts = 0 },
			wantErr:     true,
			errorString: "invalid retry attempts 0",
		},
		{
			name:        "zero cache ttl",
			mutate:      func(c *Config) { c.CacheTTL = 0 },
			wantErr:     true,
			errorString: "invalid cache TTL 0s",
		},
		{
			name: "invalid amqp scheme",
			mutate: func(c *Config) {
				c.AMQPURL = "http://localhost:5672/"
			},
			wantErr:     true,
			errorString: "invalid AMQP URL scheme 'http'",
		},
		{
			name: "sheets without credentials",
			mutate: func(c *Config) {
				c.GoogleSpreadsheetID = "sheet-id"
			},
			wantErr:     true,
			errorString: "either GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON",
		},
		{
			name: "sheets credentials file missing",
			mutate: func(c *Config) {
				c.GoogleSpreadsheetID = "sheet-id"
				c.GoogleCredentialsFile = "/nonexistent/credentials.json"
			},
			wantErr:     true,
			errorString: "Google credentials file does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errorString) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errorString)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.SupabaseURL = ""
	cfg.SupabaseAnonKey = ""
	cfg.Port = "0"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"SUPABASE_URL", "SUPABASE_ANON_KEY", "invalid port 0"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SupabaseURL != "https://example.supabase.co" {
		t.Errorf("SupabaseURL = %q", cfg.SupabaseURL)
	}
	if cfg.CacheTTL != 2*time.Minute {
		t.Errorf("CacheTTL = %v, want 2m", cfg.CacheTTL)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Errorf("RetryMaxAttempts = %d, want 5", cfg.RetryMaxAttempts)
	}
	if cfg.QueryRateLimit != time.Second {
		t.Errorf("QueryRateLimit default = %v, want 1s", cfg.QueryRateLimit)
	}
	if cfg.Port != "8081" {
		t.Errorf("Port default = %q", cfg.Port)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("CACHE_TTL", "five minutes")
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error for malformed duration")
	}
}
