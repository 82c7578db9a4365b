package audit

import (
	"context"
	"time"
)

// Action names an auditable business event.
type Action string

const (
	ActionClientRegistered Action = "client_registered"
	ActionAccountIssued    Action = "account_issued"
	ActionCardIssued       Action = "card_issued"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Action     Action    `json:"action"`
	ClientID   string    `json:"client_id"`
	ResourceID string    `json:"resource_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink persists or forwards audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}
