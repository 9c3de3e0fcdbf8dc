package backend

import (
	"context"
	"fmt"

	"gastos/internal/log"
	"gastos/internal/remote/memory"
	"gastos/internal/remote/supabase"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SupabaseBackend:
		return f.createSupabaseBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSupabaseBackend(config Config) (*BackendResult, error) {
	client, err := supabase.New(config.SupabaseURL, config.SupabaseAnonKey, supabase.WithLogger(f.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize supabase client: %w", err)
	}

	f.logger.Info("Initialized Supabase backend", "url", config.SupabaseURL)

	return &BackendResult{Backend: client, Cleanup: client.Close}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	var opts []memory.Option
	if config.JWTSecret != "" {
		opts = append(opts, memory.WithSecret(config.JWTSecret))
	}
	store := memory.New(opts...)

	if config.DemoPassword != "" {
		if err := store.SeedDemo(config.DemoPassword); err != nil {
			return nil, fmt.Errorf("failed to seed memory backend: %w", err)
		}
		f.logger.Info("Seeded memory backend with demo accounts",
			"admin", memory.DemoAdminEmail,
			"employee", memory.DemoEmployeeEmail)
	}

	f.logger.Info("Initialized memory backend")

	return &BackendResult{Backend: store}, nil
}
