package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/fieldforce-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventLoginSucceeded  EventType = "login_succeeded"
	EventLoginFailed     EventType = "login_failed"
	EventTokenRefreshed  EventType = "token_refreshed"
	EventLoggedOut       EventType = "logged_out"
	EventPasswordChanged EventType = "password_changed"
	EventUserRegistered  EventType = "user_registered"
)

// AuthEventTypes lists every event the auth service emits.
var AuthEventTypes = []EventType{
	EventLoginSucceeded,
	EventLoginFailed,
	EventTokenRefreshed,
	EventLoggedOut,
	EventPasswordChanged,
	EventUserRegistered,
}

// Actor identifies who triggered an event.
type Actor struct {
	UserID int64           `json:"user_id,omitempty"`
	Role   domain.UserRole `json:"role,omitempty"`
	Email  string          `json:"email,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType EventType, actor Actor, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// LoginFailedPayload payload.
type LoginFailedPayload struct {
	Reason string `json:"reason"`
}

// LoggedOutPayload payload.
type LoggedOutPayload struct {
	AccessRevoked  bool `json:"access_revoked"`
	RefreshRevoked bool `json:"refresh_revoked"`
}
