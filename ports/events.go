package ports

import (
	"context"

	"github.com/layer-3/bastion/core"
)

// EventPublisher publishes session lifecycle events to other services
type EventPublisher interface {
	PublishSessionCreated(ctx context.Context, session *core.Session) error
	PublishSessionsTerminated(ctx context.Context, userID string, sessionIDs []string) error
}

