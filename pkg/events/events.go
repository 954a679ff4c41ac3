// Package events implements the gateway's event bus: the published
// events named in the external interface, durable across restarts
// via an idempotent Postgres-backed outbox.
package events

import (
	"time"

	"github.com/google/uuid"

	"relay/pkg/domain"
)

// Kind names one of the events the gateway publishes.
type Kind string

const (
	KindPairingRequest  Kind = "pairing_request"
	KindPairingApproved Kind = "pairing_approved"
	KindPauseUpdate     Kind = "pause_update"
	KindRateLimit       Kind = "rate_limit"
	KindMessageReceived Kind = "message_received"
	KindMessageStatus   Kind = "message_status"
	KindMetricsUpdate   Kind = "metrics_update"
)

// Event is one published notification. Payload is a JSON-encodable
// value specific to Kind (e.g. a domain.PairingRequest for
// KindPairingRequest).
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Contact   domain.ContactID `json:"contact,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// New builds an Event with a fresh id and timestamp.
func New(kind Kind, contact domain.ContactID, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Contact:   contact,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Bus is the publish/subscribe contract every subsystem uses to
// announce state changes to pkg/monitor and any other observer.
type Bus interface {
	Publish(event Event)
	Subscribe() <-chan Event
	Close()
}
