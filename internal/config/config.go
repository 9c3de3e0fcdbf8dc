package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted by DATA_BACKEND.
const (
	BackendSupabase = "supabase"
	BackendMemory   = "memory"
)

type Config struct {
	// HTTP Server
	Port     string `env:"PORT" envDefault:"8081"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Hosted backend
	DataBackend        string `env:"DATA_BACKEND" envDefault:"supabase"`
	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseAnonKey    string `env:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseJWTSecret  string `env:"SUPABASE_JWT_SECRET"`
	MemoryDemoPassword string `env:"MEMORY_DEMO_PASSWORD"`

	// Resilience
	QueryTimeout      time.Duration `env:"QUERY_TIMEOUT" envDefault:"30s"`
	ReportTimeout     time.Duration `env:"REPORT_TIMEOUT" envDefault:"60s"`
	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	ReconnectCeiling  int           `env:"RECONNECT_CEILING" envDefault:"3"`
	QueryRateLimit    time.Duration `env:"QUERY_RATE_LIMIT" envDefault:"1s"`
	ConnectivityProbe time.Duration `env:"CONNECTIVITY_PROBE_INTERVAL" envDefault:"15s"`

	// Cache
	CacheDBPath  string        `env:"CACHE_DB_PATH" envDefault:"./data/gastos-cache.db"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	AutoRefresh  time.Duration `env:"AUTO_REFRESH_INTERVAL" envDefault:"30s"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	MaxSessions  int           `env:"MAX_SESSIONS" envDefault:"1000"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"false"`

	// AMQP
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"gastos.changes"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"gastos_sheets_sync"`

	// Google Sheets export
	GoogleSpreadsheetID   string        `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleCredentialsFile string        `env:"GOOGLE_CREDENTIALS_FILE"`
	GoogleCredentialsJSON string        `env:"GOOGLE_CREDENTIALS_JSON"`
	SheetsSyncDebounce    time.Duration `env:"SHEETS_SYNC_DEBOUNCE" envDefault:"10s"`

	// Tracing
	OTELEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
}

// Load parses the process environment. It does not validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// SheetsEnabled reports whether a spreadsheet export target is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			errors = append(errors, "SUPABASE_URL is required")
		} else if u, err := url.Parse(c.SupabaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid SUPABASE_URL '%s': must be an http(s) URL", c.SupabaseURL))
		}
		if c.SupabaseAnonKey == "" {
			errors = append(errors, "SUPABASE_ANON_KEY is required")
		}
	case BackendMemory:
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [%s %s]", c.DataBackend, BackendSupabase, BackendMemory))
	}

	if c.CacheDBPath == "" {
		errors = append(errors, "CACHE_DB_PATH cannot be empty")
	} else if c.CacheDBPath != ":memory:" {
		dir := filepath.Dir(c.CacheDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create cache database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.QueryTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid query timeout %v: must be at least 1 second", c.QueryTimeout))
	}
	if c.ReportTimeout < c.QueryTimeout {
		errors = append(errors, fmt.Sprintf("invalid report timeout %v: must not be shorter than the query timeout %v", c.ReportTimeout, c.QueryTimeout))
	}
	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid retry attempts %d: must be between 1 and 10", c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay <= 0 {
		errors = append(errors, fmt.Sprintf("invalid retry base delay %v: must be positive", c.RetryBaseDelay))
	}
	if c.ReconnectCeiling < 1 {
		errors = append(errors, fmt.Sprintf("invalid reconnect ceiling %d: must be at least 1", c.ReconnectCeiling))
	}
	if c.QueryRateLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid query rate limit %v: must not be negative", c.QueryRateLimit))
	}
	if c.CacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be positive", c.CacheTTL))
	}
	if c.AutoRefresh < time.Second {
		errors = append(errors, fmt.Sprintf("invalid auto refresh interval %v: must be at least 1 second", c.AutoRefresh))
	}
	if c.MaxSessions < 1 {
		errors = append(errors, fmt.Sprintf("invalid max sessions %d: must be at least 1", c.MaxSessions))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		hasFile := c.GoogleCredentialsFile != ""
		if !hasFile && c.GoogleCredentialsJSON == "" {
			errors = append(errors, "either GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON must be provided for sheets export")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", c.GoogleCredentialsFile))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
