package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
	"go.uber.org/zap"
)

// GuardConfig tunes one AbuseGuard keyspace.
type GuardConfig struct {
	Keyspace  string
	Limit     int
	Penalties []time.Duration
	// Ceiling bounds the lifetime of attempt records so old streaks expire.
	Ceiling time.Duration
}

// DefaultPenalties is the escalating lockout table.
var DefaultPenalties = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	2 * time.Hour,
}

// AbuseGuard counts failures per identifier and locks the identifier out for
// an escalating time once the limit is passed.
type AbuseGuard struct {
	cfg    GuardConfig
	cache  ports.Cache
	logger *zap.Logger
	now    func() time.Time
}

func NewAbuseGuard(cfg GuardConfig, cache ports.Cache, logger *zap.Logger) *AbuseGuard {
	return &AbuseGuard{
		cfg:    cfg,
		cache:  cache,
		logger: logger.With(zap.String("keyspace", cfg.Keyspace)),
		now:    time.Now,
	}
}

func (g *AbuseGuard) attemptsKey(id string) string {
	return g.cfg.Keyspace + ":attempts:" + id
}

func (g *AbuseGuard) lastKey(id string) string {
	return g.cfg.Keyspace + ":last:" + id
}

// BlockTime is the lockout after the given number of consecutive failures.
func (g *AbuseGuard) BlockTime(attempts int) time.Duration {
	if attempts <= g.cfg.Limit || len(g.cfg.Penalties) == 0 {
		return 0
	}
	i := min(attempts-g.cfg.Limit-1, len(g.cfg.Penalties)-1)
	return g.cfg.Penalties[i]
}

// Attempts returns the current failure count of id.
func (g *AbuseGuard) Attempts(ctx context.Context, id string) (int, error) {
	return g.readInt(ctx, g.attemptsKey(id))
}

// Check rejects with TOO_MANY_REQUESTS while id is locked out.
func (g *AbuseGuard) Check(ctx context.Context, id string) error {
	attempts, err := g.Attempts(ctx, id)
	if err != nil {
		return err
	}
	block := g.BlockTime(attempts)
	if block == 0 {
		return nil
	}

	lastMs, err := g.readInt(ctx, g.lastKey(id))
	if err != nil {
		return err
	}
	if lastMs == 0 {
		return nil
	}

	elapsed := g.now().Sub(time.UnixMilli(int64(lastMs)))
	remaining := block - elapsed
	if remaining <= 0 {
		return nil
	}

	seconds := int(math.Ceil(remaining.Seconds()))
	g.logger.Info("identifier locked out", zap.String("id", id), zap.Int("attempts", attempts), zap.Int("remaining_seconds", seconds))
	return core.ErrTooManyRequests.WithDetail(core.DetailRemainingSeconds, seconds)
}

// RegisterFailedAttempt increments the counter then stamps the failure time.
// The two writes are separate, so concurrent failures may count once.
func (g *AbuseGuard) RegisterFailedAttempt(ctx context.Context, id string) (int, error) {
	attempts, err := g.Attempts(ctx, id)
	if err != nil {
		return 0, err
	}
	attempts++

	if err := g.cache.Set(ctx, g.attemptsKey(id), strconv.Itoa(attempts), g.cfg.Ceiling); err != nil {
		return 0, fmt.Errorf("failed to store attempts: %w", err)
	}
	stamp := strconv.FormatInt(g.now().UnixMilli(), 10)
	if err := g.cache.Set(ctx, g.lastKey(id), stamp, g.cfg.Ceiling); err != nil {
		return 0, fmt.Errorf("failed to store last attempt: %w", err)
	}
	return attempts, nil
}

// ResetAttempts forgets every failure of id.
func (g *AbuseGuard) ResetAttempts(ctx context.Context, id string) error {
	if err := g.cache.Del(ctx, g.attemptsKey(id), g.lastKey(id)); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}

func (g *AbuseGuard) readInt(ctx context.Context, key string) (int, error) {
	raw, err := g.cache.Get(ctx, key)
	if errors.Is(err, ports.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		g.logger.Warn("corrupt attempt record", zap.String("key", key), zap.String("value", raw))
		return 0, nil
	}
	return n, nil
}
