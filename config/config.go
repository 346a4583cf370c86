// Package config holds the command line and environment configuration of the
// bastion server.
package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/service"
)

type Config struct {
	Listen string `help:"HTTP server listen address" default:":9000" env:"BASTION_LISTEN"`
	Dev    bool   `help:"development logging" default:"false" env:"BASTION_DEV"`

	RedisURL string `help:"redis URL for cache, locks and events" default:"redis://localhost:6379/0" env:"BASTION_REDIS_URL"`

	StoreType string        `help:"session store type (memory or postgres)" default:"memory" env:"BASTION_STORE_TYPE" enum:"memory,postgres"`
	Postgres  PostgresFlags `embed:"" prefix:"postgres-"`

	Directory DirectoryFlags `embed:"" prefix:"directory-"`
	Tokens    TokenFlags     `embed:"" prefix:"token-"`
	Sessions  SessionFlags   `embed:"" prefix:"session-"`
	Guards    GuardFlags     `embed:"" prefix:"guard-"`
	Wallet    WalletFlags    `embed:"" prefix:"wallet-"`

	SettingsRefresh time.Duration `help:"interval for reloading settings overrides from redis, 0 disables" default:"30s" env:"BASTION_SETTINGS_REFRESH"`
	PermissionsFile string        `help:"YAML file with the step-up permission registry" default:"" env:"BASTION_PERMISSIONS_FILE"`
}

type PostgresFlags struct {
	DSN      string `help:"PostgreSQL connection string" env:"BASTION_POSTGRES_DSN"`
	MaxConns int32  `help:"maximum pool connections" default:"10" env:"BASTION_POSTGRES_MAX_CONNS"`
	MinConns int32  `help:"minimum idle pool connections" default:"1" env:"BASTION_POSTGRES_MIN_CONNS"`
}

type DirectoryFlags struct {
	URL      string        `help:"identity directory base URL" default:"http://localhost:9100" env:"BASTION_DIRECTORY_URL"`
	Timeout  time.Duration `help:"directory request timeout" default:"5s" env:"BASTION_DIRECTORY_TIMEOUT"`
	MaxTries uint          `help:"directory attempts per call" default:"3" env:"BASTION_DIRECTORY_MAX_TRIES"`
	Audience string        `help:"audience of service tokens sent to the directory" default:"directory" env:"BASTION_DIRECTORY_AUDIENCE"`
}

type TokenFlags struct {
	KeyPath         string            `help:"PEM encoded ES256 private key, an ephemeral key is generated when empty" default:"" env:"BASTION_TOKEN_KEY_PATH"`
	Issuer          string            `help:"issuer of user and service tokens" default:"bastion" env:"BASTION_TOKEN_ISSUER"`
	AccessExpiry    time.Duration     `help:"access token lifetime" default:"15m" env:"BASTION_TOKEN_ACCESS_EXPIRY"`
	RefreshExpiry   time.Duration     `help:"refresh token lifetime" default:"168h" env:"BASTION_TOKEN_REFRESH_EXPIRY"`
	ServiceExpiry   time.Duration     `help:"service token lifetime" default:"5m" env:"BASTION_TOKEN_SERVICE_EXPIRY"`
	ServiceAudience string            `help:"audience of scoped tokens handed to downstream services" default:"services" env:"BASTION_TOKEN_SERVICE_AUDIENCE"`
	Secrets         map[string]string `help:"service token secrets by audience (aud=secret;aud=secret)" env:"BASTION_TOKEN_SECRETS"`
	DefaultSecret   string            `help:"service token secret for audiences without their own" env:"BASTION_TOKEN_DEFAULT_SECRET"`
}

type SessionFlags struct {
	Max       int           `help:"maximum active sessions per user" default:"10" env:"BASTION_SESSION_MAX"`
	CacheTTL  time.Duration `help:"lifetime of cached session snapshots" default:"24h" env:"BASTION_SESSION_CACHE_TTL"`
	Serialize bool          `help:"serialize session creation per user with a redis lock" default:"false" env:"BASTION_SESSION_SERIALIZE"`
}

type GuardFlags struct {
	LoginLimit     int             `help:"failed logins tolerated before lockout" default:"5" env:"BASTION_GUARD_LOGIN_LIMIT"`
	LoginPenalties []time.Duration `help:"lockout durations for failed logins past the limit" default:"10s,30s,1m,5m,15m,2h" env:"BASTION_GUARD_LOGIN_PENALTIES"`
	TwoFALimit     int             `name:"2fa-limit" help:"wrong confirmation codes tolerated before lockout" default:"5" env:"BASTION_GUARD_2FA_LIMIT"`
	TwoFAPenalties []time.Duration `name:"2fa-penalties" help:"lockout durations for wrong confirmation codes past the limit" default:"10s,30s,1m,5m,15m,2h" env:"BASTION_GUARD_2FA_PENALTIES"`
	Ceiling        time.Duration   `help:"lifetime of attempt records" default:"2h" env:"BASTION_GUARD_CEILING"`
}

type WalletFlags struct {
	NonceExpiry time.Duration `help:"lifetime of a wallet challenge" default:"5m" env:"BASTION_WALLET_NONCE_EXPIRY"`
	Message     string        `help:"message shown in the wallet challenge" default:"Sign in to Bastion" env:"BASTION_WALLET_MESSAGE"`
	Name        string        `help:"EIP-712 domain name" default:"Bastion" env:"BASTION_WALLET_DOMAIN_NAME"`
	Version     string        `help:"EIP-712 domain version" default:"1" env:"BASTION_WALLET_DOMAIN_VERSION"`
	ChainID     int64         `help:"EIP-712 domain chain id" default:"1" env:"BASTION_WALLET_CHAIN_ID"`
}

// Validate is called by kong after parsing.
func (c *Config) Validate() error {
	if c.StoreType == "postgres" && c.Postgres.DSN == "" {
		return errors.New("postgres DSN is required for the postgres store (--postgres-dsn or BASTION_POSTGRES_DSN)")
	}
	if c.Tokens.DefaultSecret == "" && len(c.Tokens.Secrets) == 0 {
		return errors.New("at least one service token secret is required (--token-default-secret or BASTION_TOKEN_DEFAULT_SECRET)")
	}
	if c.Sessions.Max < 1 {
		return errors.New("session max must be at least 1")
	}
	if len(c.Guards.LoginPenalties) == 0 || len(c.Guards.TwoFAPenalties) == 0 {
		return errors.New("guard penalties must not be empty")
	}
	if c.Guards.LoginLimit < 0 || c.Guards.TwoFALimit < 0 {
		return errors.New("guard limits must not be negative")
	}
	return nil
}

// Settings returns the runtime settings described by the configuration.
func (c *Config) Settings() service.Settings {
	s := service.DefaultSettings()
	s.MaxSessions = c.Sessions.Max
	s.SessionCacheTTL = c.Sessions.CacheTTL
	s.SerializeSessionCreate = c.Sessions.Serialize
	s.AccessTokenExpiry = c.Tokens.AccessExpiry
	s.RefreshTokenExpiry = c.Tokens.RefreshExpiry
	s.ServiceTokenExpiry = c.Tokens.ServiceExpiry
	s.Issuer = c.Tokens.Issuer
	s.DirectoryAudience = c.Directory.Audience
	s.ServiceAudience = c.Tokens.ServiceAudience
	s.NonceExpiry = c.Wallet.NonceExpiry
	s.ChallengeMessage = c.Wallet.Message
	s.Domain = core.ChallengeDomain{
		Name:    c.Wallet.Name,
		Version: c.Wallet.Version,
		ChainID: c.Wallet.ChainID,
	}
	return s
}

func (c *Config) LoginGuard() service.GuardConfig {
	return service.GuardConfig{
		Keyspace:  "login",
		Limit:     c.Guards.LoginLimit,
		Penalties: c.Guards.LoginPenalties,
		Ceiling:   c.Guards.Ceiling,
	}
}

func (c *Config) TwoFAGuard() service.GuardConfig {
	return service.GuardConfig{
		Keyspace:  "2fa",
		Limit:     c.Guards.TwoFALimit,
		Penalties: c.Guards.TwoFAPenalties,
		Ceiling:   c.Guards.Ceiling,
	}
}

// SigningKey loads the ES256 key, or generates one when no path is set.
// Tokens signed with a generated key do not survive a restart.
func (c *Config) SigningKey() (*ecdsa.PrivateKey, bool, error) {
	if c.Tokens.KeyPath == "" {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate signing key: %w", err)
		}
		return key, true, nil
	}

	pem, err := os.ReadFile(c.Tokens.KeyPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, false, errors.New("signing key must be a P-256 key")
	}
	return key, false, nil
}
