package events

import (
	"context"
	"time"
)

// Event is the change-feed record emitted after a state transition
// commits. Consumers see transitions in the order the bus delivers
// them per owner key.
type Event struct {
	Type      string    `json:"type"`
	OwnerID   string    `json:"ownerId"`
	Resource  string    `json:"resource"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	TypeContextActivated   = "context.activated"
	TypeContextDeactivated = "context.deactivated"
	TypeContextCreated     = "context.created"
	TypeContextDeleted     = "context.deleted"
	TypeActivityCreated    = "activity.created"
	TypeAccountDeleted     = "account.deleted"
)

// Publisher emits events best-effort; a publish failure never rolls
// back the state change it describes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
