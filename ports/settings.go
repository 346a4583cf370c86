package ports

import "context"

// SettingsSource supplies overrides for the runtime settings.
type SettingsSource interface {
	// Overrides returns a JSON object merged over configured settings, or ErrCacheMiss.
	Overrides(ctx context.Context) (string, error)
}
