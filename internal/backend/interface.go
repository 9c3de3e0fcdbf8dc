package backend

import (
	"context"

	"gastos/internal/remote"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend remote.Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Supabase specific
	SupabaseURL     string
	SupabaseAnonKey string

	// Memory specific. An empty DemoPassword leaves the store empty.
	JWTSecret    string
	DemoPassword string
}

// BackendType represents the type of backend
type BackendType string

const (
	SupabaseBackend BackendType = "supabase"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SupabaseBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
