package cache

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/bastion/ports"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1700000000, 0)}
	c := NewMemoryCache().WithClock(clk.now)

	t.Run("get missing key", func(t *testing.T) {
		_, err := c.Get(ctx, "missing")
		require.ErrorIs(t, err, ports.ErrCacheMiss)
	})

	t.Run("set then expire", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", "v", time.Second))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v", v)

		clk.t = clk.t.Add(time.Second)
		_, err = c.Get(ctx, "k")
		require.ErrorIs(t, err, ports.ErrCacheMiss)
	})

	t.Run("setnx", func(t *testing.T) {
		ok, err := c.SetNX(ctx, "lock", "a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = c.SetNX(ctx, "lock", "b", time.Minute)
		require.NoError(t, err)
		require.False(t, ok)

		released, err := c.DelIfEqual(ctx, "lock", "b")
		require.NoError(t, err)
		require.False(t, released)

		released, err = c.DelIfEqual(ctx, "lock", "a")
		require.NoError(t, err)
		require.True(t, released)
	})

	t.Run("getdel consumes once", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "nonce", "x", time.Minute))
		v, err := c.GetDel(ctx, "nonce")
		require.NoError(t, err)
		require.Equal(t, "x", v)

		_, err = c.GetDel(ctx, "nonce")
		require.ErrorIs(t, err, ports.ErrCacheMiss)
	})

	t.Run("json helpers", func(t *testing.T) {
		type payload struct {
			A string `json:"a"`
		}
		require.NoError(t, ports.SetJSON(ctx, c, "json", payload{A: "b"}, 0))
		got, err := ports.GetJSON[payload](ctx, c, "json")
		require.NoError(t, err)
		require.Equal(t, "b", got.A)
	})
}
