package backend

import (
	"fmt"

	"gastos/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s (want one of %v)", appConfig.DataBackend, GetBackendTypeStrings())
	}

	return Config{
		Type:            backendType,
		SupabaseURL:     appConfig.SupabaseURL,
		SupabaseAnonKey: appConfig.SupabaseAnonKey,
		JWTSecret:       appConfig.SupabaseJWTSecret,
		DemoPassword:    appConfig.MemoryDemoPassword,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SupabaseBackend:
		if c.SupabaseURL == "" {
			return fmt.Errorf("supabase url is required for supabase backend")
		}
		if c.SupabaseAnonKey == "" {
			return fmt.Errorf("supabase anon key is required for supabase backend")
		}
	case MemoryBackend:
		// Nothing required; without a demo password the store starts empty.
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SupabaseBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
