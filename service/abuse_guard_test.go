package service

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/bastion/adapters/cache"
	"github.com/layer-3/bastion/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGuard(limit int, penalties ...time.Duration) (*AbuseGuard, *fakeClock, *cache.MemoryCache) {
	clock := newFakeClock()
	c := cache.NewMemoryCache().WithClock(clock.Now)
	g := NewAbuseGuard(GuardConfig{Keyspace: "login", Limit: limit, Penalties: penalties, Ceiling: 2 * time.Hour}, c, zap.NewNop())
	g.now = clock.Now
	return g, clock, c
}

func TestAbuseGuard_BlockTime(t *testing.T) {
	penalties := []time.Duration{10 * time.Second, 30 * time.Second, time.Minute}
	g, _, _ := newTestGuard(3, penalties...)

	for a := 0; a <= 3; a++ {
		require.Zero(t, g.BlockTime(a), "attempts=%d", a)
	}

	prev := time.Duration(0)
	for a := 4; a <= 3+len(penalties); a++ {
		block := g.BlockTime(a)
		require.Greater(t, block, prev, "attempts=%d", a)
		require.Equal(t, penalties[a-4], block)
		prev = block
	}

	for _, a := range []int{7, 10, 1000} {
		require.Equal(t, time.Minute, g.BlockTime(a), "attempts=%d", a)
	}
}

func TestAbuseGuard_BlockTimeWithoutPenalties(t *testing.T) {
	g, _, _ := newTestGuard(1)
	require.Zero(t, g.BlockTime(50))
}

func TestAbuseGuard_CheckAndExpiry(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(2, 10*time.Second, 30*time.Second)

	for i := 0; i < 2; i++ {
		_, err := g.RegisterFailedAttempt(ctx, "ip:alice")
		require.NoError(t, err)
		require.NoError(t, g.Check(ctx, "ip:alice"))
	}

	n, err := g.RegisterFailedAttempt(ctx, "ip:alice")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	err = g.Check(ctx, "ip:alice")
	require.ErrorIs(t, err, core.ErrTooManyRequests)
	require.Equal(t, 10, core.AsError(err, core.ErrUnknown).Detail[core.DetailRemainingSeconds])

	clock.Advance(4 * time.Second)
	err = g.Check(ctx, "ip:alice")
	require.Equal(t, 6, core.AsError(err, core.ErrUnknown).Detail[core.DetailRemainingSeconds])

	clock.Advance(6 * time.Second)
	require.NoError(t, g.Check(ctx, "ip:alice"))

	// other identifiers are independent
	require.NoError(t, g.Check(ctx, "ip:bob"))
}

func TestAbuseGuard_Reset(t *testing.T) {
	ctx := context.Background()

	for _, failures := range []int{0, 1, 5, 40} {
		g, _, c := newTestGuard(3, 10*time.Second)
		for i := 0; i < failures; i++ {
			_, err := g.RegisterFailedAttempt(ctx, "id")
			require.NoError(t, err)
		}

		require.NoError(t, g.ResetAttempts(ctx, "id"))

		attempts, err := g.Attempts(ctx, "id")
		require.NoError(t, err)
		require.Zero(t, attempts)
		require.Zero(t, g.BlockTime(attempts))
		require.NoError(t, g.Check(ctx, "id"))
		require.Zero(t, c.Len())
	}
}

func TestAbuseGuard_CeilingExpiresStreak(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(0, time.Hour)

	_, err := g.RegisterFailedAttempt(ctx, "id")
	require.NoError(t, err)
	require.Error(t, g.Check(ctx, "id"))

	clock.Advance(2*time.Hour + time.Second)
	attempts, err := g.Attempts(ctx, "id")
	require.NoError(t, err)
	require.Zero(t, attempts)
}

func TestAbuseGuard_Keyspaces(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.NewMemoryCache().WithClock(clock.Now)
	login := NewAbuseGuard(GuardConfig{Keyspace: "login", Limit: 0, Penalties: []time.Duration{time.Minute}, Ceiling: time.Hour}, c, zap.NewNop())
	twoFA := NewAbuseGuard(GuardConfig{Keyspace: "2fa", Limit: 0, Penalties: []time.Duration{time.Minute}, Ceiling: time.Hour}, c, zap.NewNop())

	_, err := login.RegisterFailedAttempt(ctx, "same-id")
	require.NoError(t, err)

	attempts, err := twoFA.Attempts(ctx, "same-id")
	require.NoError(t, err)
	require.Zero(t, attempts)
}
