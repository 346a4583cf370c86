package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
)

// MemoryStore is an in-memory implementation of the SessionStore interface
type MemoryStore struct {
	sessions map[string]*core.Session
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*core.Session),
	}
}

var _ ports.SessionStore = (*MemoryStore)(nil)

// Create stores a copy of session
func (s *MemoryStore) Create(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

// FindActive returns the active session with id
func (s *MemoryStore) FindActive(ctx context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || session.Status != core.SessionActive {
		return nil, ports.ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

// CountActive counts active sessions of a user
func (s *MemoryStore) CountActive(ctx context.Context, userID string) (int, error) {
	return s.Count(ctx, ports.SessionQuery{UserID: userID, Status: core.SessionActive})
}

// ListActive lists active sessions of a user
func (s *MemoryStore) ListActive(ctx context.Context, userID string) ([]*core.Session, error) {
	return s.Find(ctx, ports.SessionQuery{UserID: userID, Status: core.SessionActive})
}

// Terminate flips an active session owned by userID
func (s *MemoryStore) Terminate(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.UserID != userID || session.Status != core.SessionActive {
		return ports.ErrSessionNotFound
	}
	session.Status = core.SessionTerminated
	session.UpdatedAt = time.Now()
	return nil
}

// TerminateMany flips every listed active session
func (s *MemoryStore) TerminateMany(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for _, id := range ids {
		session, ok := s.sessions[id]
		if !ok || session.Status != core.SessionActive {
			continue
		}
		session.Status = core.SessionTerminated
		session.UpdatedAt = now
		n++
	}
	return n, nil
}

// Count counts sessions matching q, ignoring pagination
func (s *MemoryStore) Count(ctx context.Context, q ports.SessionQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, session := range s.sessions {
		if matches(session, q) {
			n++
		}
	}
	return n, nil
}

// Find returns sessions matching q, newest first
func (s *MemoryStore) Find(ctx context.Context, q ports.SessionQuery) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Session
	for _, session := range s.sessions {
		if matches(session, q) {
			clone := *session
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(session *core.Session, q ports.SessionQuery) bool {
	if q.UserID != "" && session.UserID != q.UserID {
		return false
	}
	if q.Status != "" && session.Status != q.Status {
		return false
	}
	if !q.CreatedBefore.IsZero() && session.CreatedAt.After(q.CreatedBefore) {
		return false
	}
	return true
}
