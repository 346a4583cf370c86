package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
)

const (
	TopicSessionCreated     = "bastion.session.created"
	TopicSessionsTerminated = "bastion.sessions.terminated"
)

// SessionCreatedEvent is published after a session row is persisted
type SessionCreatedEvent struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	UserIP    string    `json:"user_ip"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionsTerminatedEvent is published after sessions are flipped to terminated
type SessionsTerminatedEvent struct {
	UserID     string   `json:"user_id"`
	SessionIDs []string `json:"session_ids"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishSessionCreated publishes a session created event
func (p *WatermillPublisher) PublishSessionCreated(ctx context.Context, session *core.Session) error {
	return p.publish(ctx, TopicSessionCreated, SessionCreatedEvent{
		SessionID: session.ID,
		UserID:    session.UserID,
		Role:      session.Role,
		UserIP:    session.UserIP,
		CreatedAt: session.CreatedAt,
	})
}

// PublishSessionsTerminated publishes a sessions terminated event
func (p *WatermillPublisher) PublishSessionsTerminated(ctx context.Context, userID string, sessionIDs []string) error {
	return p.publish(ctx, TopicSessionsTerminated, SessionsTerminatedEvent{
		UserID:     userID,
		SessionIDs: sessionIDs,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishSessionCreated(context.Context, *core.Session) error { return nil }

func (NopPublisher) PublishSessionsTerminated(context.Context, string, []string) error { return nil }
