package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/alecthomas/kong"
	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/layer-3/bastion/adapters/cache"
	"github.com/layer-3/bastion/adapters/directory"
	"github.com/layer-3/bastion/adapters/events"
	"github.com/layer-3/bastion/adapters/store"
	"github.com/layer-3/bastion/adapters/tokenizer"
	"github.com/layer-3/bastion/config"
	"github.com/layer-3/bastion/ports"
	"github.com/layer-3/bastion/service"
	transport "github.com/layer-3/bastion/transport/http"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectTimeout = 30 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	var cfg config.Config
	kctx := kong.Parse(&cfg,
		kong.Name("bastion"),
		kong.Description("Authentication, session and service token server."),
	)

	logger, err := newLogger(cfg.Dev)
	kctx.FatalIfErrorf(err)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cfg, logger); err != nil {
		logger.Fatal("bastion stopped", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	signKey, ephemeral, err := cfg.SigningKey()
	if err != nil {
		return err
	}
	if ephemeral {
		logger.Warn("no signing key configured, tokens will not survive a restart")
	}

	registry, err := service.LoadPermissionRegistry(cfg.PermissionsFile)
	if err != nil {
		return err
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis URL: %w", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	if _, err := backoff.Retry(ctx, func() (string, error) {
		return redisClient.Ping(ctx).Result()
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(connectTimeout)); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}

	sessionStore, closeStore, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	streamPublisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redisClient},
		events.NewZapLoggerAdapter(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer streamPublisher.Close()

	sharedCache := cache.NewRedisCache(redisClient, "bastion:")
	settings := service.NewSettingsStore(cfg.Settings(), service.NewCacheSettingsSource(sharedCache), logger)
	if err := settings.Refresh(ctx); err != nil {
		logger.Warn("failed to load settings overrides", zap.Error(err))
	}
	if cfg.SettingsRefresh > 0 {
		go settings.Run(ctx, cfg.SettingsRefresh)
	}

	dir := directory.NewHTTPDirectory(cfg.Directory.URL, cfg.Directory.Timeout, cfg.Directory.MaxTries)
	jwtTokenizer := tokenizer.NewJWTTokenizer(signKey, cfg.Tokens.Issuer)
	tokens := service.NewServiceTokens(jwtTokenizer, cfg.Tokens.Secrets, cfg.Tokens.DefaultSecret, settings)

	nonces := service.NewNonceStore(sharedCache, settings)
	verifier := service.NewCredentialVerifier(nonces, logger,
		service.NewNativeStrategy(dir, tokens),
		service.NewWalletStrategy(nonces, dir, tokens),
		service.OAuthStrategy{},
	)
	mutex := service.NewMutex(sharedCache, 5*time.Second, 2*time.Second)
	sessions := service.NewSessionManager(sessionStore, sharedCache, dir, tokens,
		events.NewWatermillPublisher(streamPublisher), mutex, settings, logger)
	issuer := service.NewTokenIssuer(jwtTokenizer, sessions, dir, tokens, settings, logger)
	loginGuard := service.NewAbuseGuard(cfg.LoginGuard(), sharedCache, logger)
	stepUp := service.NewStepUpAuthorizer(registry, dir, tokens,
		service.NewAbuseGuard(cfg.TwoFAGuard(), sharedCache, logger), settings, logger)

	auth := service.NewAuthService(verifier, sessions, issuer, stepUp, loginGuard, logger)

	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := transport.SetupRouter(auth, transport.RouterConfig{ServiceAudience: settings.Current().Issuer}, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.String("store", cfg.StoreType), zap.Strings("step_up_patterns", registry.Patterns()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newSessionStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.SessionStore, func(), error) {
	if cfg.StoreType != "postgres" {
		logger.Warn("using in-memory session store")
		return store.NewMemoryStore(), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.MinConns = cfg.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(connectTimeout)); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	if err := pgStore.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pgStore, pool.Close, nil
}
