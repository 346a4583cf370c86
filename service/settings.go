package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
	"go.uber.org/zap"
)

// SettingsOverridesKey holds a JSON object merged over configured settings.
const SettingsOverridesKey = "settings:overrides"

// Settings are the runtime knobs of the authentication core.
type Settings struct {
	MaxSessions            int
	SessionCacheTTL        time.Duration
	SerializeSessionCreate bool

	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	ServiceTokenExpiry time.Duration

	// Issuer names this service in the iss and act claims of service tokens. It is
	// also the aud that service tokens presented to this service must carry.
	Issuer string
	// DirectoryAudience is the aud of tokens minted for directory calls.
	DirectoryAudience string
	// ServiceAudience is the aud of scoped tokens handed to downstream services.
	ServiceAudience string

	NonceExpiry      time.Duration
	ChallengeMessage string
	Domain           core.ChallengeDomain
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxSessions:        10,
		SessionCacheTTL:    24 * time.Hour,
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		ServiceTokenExpiry: 5 * time.Minute,
		Issuer:             "bastion",
		DirectoryAudience:  "directory",
		ServiceAudience:    "services",
		NonceExpiry:        5 * time.Minute,
		ChallengeMessage:   "Sign in to Bastion",
		Domain: core.ChallengeDomain{
			Name:    "Bastion",
			Version: "1",
			ChainID: 1,
		},
	}
}

type settingsOverrides struct {
	MaxSessions            *int    `json:"maxSessions"`
	SessionCacheTTL        *string `json:"sessionCacheTtl"`
	SerializeSessionCreate *bool   `json:"serializeSessionCreate"`
	AccessTokenExpiry      *string `json:"accessTokenExpiry"`
	RefreshTokenExpiry     *string `json:"refreshTokenExpiry"`
	ServiceTokenExpiry     *string `json:"serviceTokenExpiry"`
	NonceExpiry            *string `json:"nonceExpiry"`
	ChallengeMessage       *string `json:"challengeMessage"`
}

func (o settingsOverrides) apply(s Settings) (Settings, error) {
	if o.MaxSessions != nil {
		if *o.MaxSessions < 1 {
			return s, fmt.Errorf("maxSessions must be positive, got %d", *o.MaxSessions)
		}
		s.MaxSessions = *o.MaxSessions
	}
	if o.SerializeSessionCreate != nil {
		s.SerializeSessionCreate = *o.SerializeSessionCreate
	}
	if o.ChallengeMessage != nil {
		s.ChallengeMessage = *o.ChallengeMessage
	}

	durations := []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"sessionCacheTtl", o.SessionCacheTTL, &s.SessionCacheTTL},
		{"accessTokenExpiry", o.AccessTokenExpiry, &s.AccessTokenExpiry},
		{"refreshTokenExpiry", o.RefreshTokenExpiry, &s.RefreshTokenExpiry},
		{"serviceTokenExpiry", o.ServiceTokenExpiry, &s.ServiceTokenExpiry},
		{"nonceExpiry", o.NonceExpiry, &s.NonceExpiry},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil || v <= 0 {
			return s, fmt.Errorf("invalid %s %q", d.name, *d.raw)
		}
		*d.dst = v
	}
	return s, nil
}

// SettingsStore serves the current settings snapshot. Readers call Current on
// every use and never keep a copy.
type SettingsStore struct {
	base    Settings
	current atomic.Pointer[Settings]
	source  ports.SettingsSource
	logger  *zap.Logger
}

// NewSettingsStore creates a store serving base until the first Refresh.
// source may be nil.
func NewSettingsStore(base Settings, source ports.SettingsSource, logger *zap.Logger) *SettingsStore {
	s := &SettingsStore{base: base, source: source, logger: logger}
	s.current.Store(&base)
	return s
}

// Current returns the active settings.
func (s *SettingsStore) Current() Settings {
	return *s.current.Load()
}

// Refresh re-reads overrides from the source and swaps the snapshot. A missing
// override document restores the configured base.
func (s *SettingsStore) Refresh(ctx context.Context) error {
	if s.source == nil {
		return nil
	}

	raw, err := s.source.Overrides(ctx)
	if errors.Is(err, ports.ErrCacheMiss) {
		base := s.base
		s.current.Store(&base)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load settings overrides: %w", err)
	}

	var overrides settingsOverrides
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return fmt.Errorf("failed to decode settings overrides: %w", err)
	}
	next, err := overrides.apply(s.base)
	if err != nil {
		return err
	}
	s.current.Store(&next)
	return nil
}

// Run refreshes the settings every interval until ctx is done.
func (s *SettingsStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("settings refresh failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

// CacheSettingsSource reads overrides from the shared cache.
type CacheSettingsSource struct {
	cache ports.Cache
}

func NewCacheSettingsSource(cache ports.Cache) *CacheSettingsSource {
	return &CacheSettingsSource{cache: cache}
}

func (c *CacheSettingsSource) Overrides(ctx context.Context) (string, error) {
	return c.cache.Get(ctx, SettingsOverridesKey)
}
