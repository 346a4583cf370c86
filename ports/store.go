package ports

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/bastion/core"
)

// ErrSessionNotFound is returned by SessionStore when no row matches.
var ErrSessionNotFound = errors.New("session not found")

// SessionQuery filters paginated session reads. Zero values mean "any".
type SessionQuery struct {
	UserID        string
	Status        core.SessionStatus
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// SessionStore is the durable record of sessions
type SessionStore interface {
	Create(ctx context.Context, session *core.Session) error
	// FindActive returns the ACTIVE session with id, or ErrSessionNotFound.
	FindActive(ctx context.Context, id string) (*core.Session, error)
	CountActive(ctx context.Context, userID string) (int, error)
	ListActive(ctx context.Context, userID string) ([]*core.Session, error)
	// Terminate flips an ACTIVE session owned by userID to TERMINATED.
	Terminate(ctx context.Context, id, userID string) error
	// TerminateMany flips the listed sessions to TERMINATED and reports how many changed.
	TerminateMany(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context, q SessionQuery) (int, error)
	// Find returns sessions ordered by creation time, newest first.
	Find(ctx context.Context, q SessionQuery) ([]*core.Session, error)
}
