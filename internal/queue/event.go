// Package queue defines message payloads exchanged over the message broker
// and the RabbitMQ plumbing that carries them.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// SessionEventsQueue is the durable queue every session event lands on.
const SessionEventsQueue = "session.events"

// Session event types.
const (
	EventSessionIssued     = "session.issued"
	EventSessionSuperseded = "session.superseded"
	EventSessionEnded      = "session.ended"
)

// SessionEvent is published after a session mutation has been committed. It
// carries enough for a downstream notifier to reach the account holder
// without querying the primary database.
type SessionEvent struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	UserID     uint64 `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	OccurredAt string `json:"occurred_at"`
}

// NewSessionEvent stamps a new event with a unique id and the current time.
func NewSessionEvent(typ string, userID uint64, username, email string) SessionEvent {
	return SessionEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     userID,
		Username:   username,
		Email:      email,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
}
