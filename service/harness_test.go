package service

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/bastion/adapters/cache"
	"github.com/layer-3/bastion/adapters/directory"
	"github.com/layer-3/bastion/adapters/events"
	"github.com/layer-3/bastion/adapters/store"
	"github.com/layer-3/bastion/adapters/tokenizer"
	"github.com/layer-3/bastion/ports"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	clock      *fakeClock
	cache      *cache.MemoryCache
	store      *store.MemoryStore
	directory  *directory.MemoryDirectory
	tokenizer  ports.Tokenizer
	settings   *SettingsStore
	tokens     *ServiceTokens
	nonces     *NonceStore
	verifier   *CredentialVerifier
	sessions   *SessionManager
	issuer     *TokenIssuer
	loginGuard *AbuseGuard
	stepGuard  *AbuseGuard
	registry   *PermissionRegistry
	stepUp     *StepUpAuthorizer
	auth       *AuthService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	settings  Settings
	loginCfg  GuardConfig
	stepCfg   GuardConfig
	registry  []PermissionEntry
	publisher ports.EventPublisher
}

func withSettings(fn func(*Settings)) harnessOption {
	return func(c *harnessConfig) { fn(&c.settings) }
}

func withLoginGuard(limit int, penalties ...time.Duration) harnessOption {
	return func(c *harnessConfig) {
		c.loginCfg.Limit = limit
		c.loginCfg.Penalties = penalties
	}
}

func withPermissions(entries ...PermissionEntry) harnessOption {
	return func(c *harnessConfig) { c.registry = entries }
}

func withPublisher(p ports.EventPublisher) harnessOption {
	return func(c *harnessConfig) { c.publisher = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{
		settings:  DefaultSettings(),
		loginCfg:  GuardConfig{Keyspace: "login", Limit: 3, Penalties: DefaultPenalties, Ceiling: 2 * time.Hour},
		stepCfg:   GuardConfig{Keyspace: "2fa", Limit: 5, Penalties: DefaultPenalties, Ceiling: 2 * time.Hour},
		publisher: events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	logger := zap.NewNop()
	h := &harness{clock: newFakeClock()}
	h.cache = cache.NewMemoryCache().WithClock(h.clock.Now)
	h.store = store.NewMemoryStore()
	h.directory = directory.NewMemoryDirectory()
	h.tokenizer = tokenizer.NewJWTTokenizer(key, cfg.settings.Issuer)
	h.settings = NewSettingsStore(cfg.settings, NewCacheSettingsSource(h.cache), logger)
	h.tokens = NewServiceTokens(h.tokenizer, map[string]string{
		"directory": "directory-secret",
		"billing":   "billing-secret",
	}, "default-secret", h.settings)

	h.nonces = NewNonceStore(h.cache, h.settings)
	h.nonces.now = h.clock.Now
	h.verifier = NewCredentialVerifier(h.nonces, logger,
		NewNativeStrategy(h.directory, h.tokens),
		NewWalletStrategy(h.nonces, h.directory, h.tokens),
		OAuthStrategy{},
	)

	mutex := NewMutex(h.cache, 5*time.Second, time.Second)
	h.sessions = NewSessionManager(h.store, h.cache, h.directory, h.tokens, cfg.publisher, mutex, h.settings, logger)
	h.sessions.now = h.clock.Now
	h.issuer = NewTokenIssuer(h.tokenizer, h.sessions, h.directory, h.tokens, h.settings, logger)

	h.loginGuard = NewAbuseGuard(cfg.loginCfg, h.cache, logger)
	h.loginGuard.now = h.clock.Now
	h.stepGuard = NewAbuseGuard(cfg.stepCfg, h.cache, logger)
	h.stepGuard.now = h.clock.Now

	h.registry, err = NewPermissionRegistry(cfg.registry...)
	require.NoError(t, err)
	h.stepUp = NewStepUpAuthorizer(h.registry, h.directory, h.tokens, h.stepGuard, h.settings, logger)
	h.stepUp.now = h.clock.Now

	h.auth = NewAuthService(h.verifier, h.sessions, h.issuer, h.stepUp, h.loginGuard, logger)
	return h
}
