package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *MemoryStore, userID string, n int, base time.Time) []*core.Session {
	t.Helper()
	var out []*core.Session
	for i := 0; i < n; i++ {
		session := &core.Session{
			ID:        fmt.Sprintf("%s-%d", userID, i),
			UserID:    userID,
			Status:    core.SessionActive,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Create(context.Background(), session))
		out = append(out, session)
	}
	return out
}

func TestMemoryStore_FindActiveAndTerminate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "alice", 2, time.Now())

	got, err := s.FindActive(ctx, "alice-0")
	require.NoError(t, err)
	require.Equal(t, "alice", got.UserID)

	t.Run("wrong owner", func(t *testing.T) {
		err := s.Terminate(ctx, "alice-0", "bob")
		require.ErrorIs(t, err, ports.ErrSessionNotFound)
	})

	t.Run("owner", func(t *testing.T) {
		require.NoError(t, s.Terminate(ctx, "alice-0", "alice"))
		_, err := s.FindActive(ctx, "alice-0")
		require.ErrorIs(t, err, ports.ErrSessionNotFound)

		err = s.Terminate(ctx, "alice-0", "alice")
		require.ErrorIs(t, err, ports.ErrSessionNotFound)
	})

	n, err := s.CountActive(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMemoryStore_TerminateMany(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sessions := seed(t, s, "alice", 3, time.Now())
	require.NoError(t, s.Terminate(ctx, sessions[0].ID, "alice"))

	n, err := s.TerminateMany(ctx, []string{sessions[0].ID, sessions[1].ID, sessions[2].ID, "missing"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	active, err := s.ListActive(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestMemoryStore_FindOrderAndPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s, "alice", 5, base)
	seed(t, s, "bob", 2, base)

	page, err := s.Find(ctx, ports.SessionQuery{UserID: "alice", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "alice-3", page[0].ID)
	require.Equal(t, "alice-2", page[1].ID)

	until := ports.SessionQuery{UserID: "alice", CreatedBefore: base.Add(2 * time.Minute)}
	n, err := s.Count(ctx, until)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	past, err := s.Find(ctx, ports.SessionQuery{UserID: "alice", Offset: 10})
	require.NoError(t, err)
	require.Empty(t, past)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "alice", 1, time.Now())

	got, err := s.FindActive(ctx, "alice-0")
	require.NoError(t, err)
	got.Status = core.SessionTerminated

	_, err = s.FindActive(ctx, "alice-0")
	require.NoError(t, err)
}
