// Package channel defines the transport-adapter abstraction relay uses
// to speak to chat platforms, plus a registry so new platforms can be
// added without touching the pipeline coordinator.
package channel

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"relay/pkg/domain"
)

// Status describes an adapter's current connection state, surfaced to
// the operator via the activity feed.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// InboundHandler is called by an adapter for every normalized message
// it receives. Adapters must not block waiting for it to return longer
// than necessary; the pipeline coordinator enqueues and returns quickly.
type InboundHandler func(ctx context.Context, msg domain.NormalizedMessage)

// Contact is a platform contact as returned by an adapter's GetContacts,
// independent of whether relay has admitted it yet.
type Contact struct {
	ID          domain.ContactID
	DisplayName string
}

// Adapter is the per-platform transport implementation. Each adapter
// owns its own connection lifecycle and translates platform-specific
// events into domain.NormalizedMessage.
type Adapter interface {
	ID() domain.ChannelID
	DisplayName() string
	// Icon names a glyph/identifier for the operator-facing activity
	// feed to show next to this adapter; platforms without a natural
	// icon return a short label instead.
	Icon() string

	// Connect starts the adapter's receive loop, delivering messages to
	// handler. It must return once the initial connection succeeds (or
	// fails); ongoing reconnection happens in the background.
	Connect(ctx context.Context, handler InboundHandler) error
	Disconnect() error
	Status() Status
	// IsConnected is a convenience predicate over Status for callers
	// that only care about the binary connected/not-connected state.
	IsConnected() bool

	SendMessage(ctx context.Context, contact domain.ContactID, text string) (messageID string, err error)
	SendTypingIndicator(ctx context.Context, contact domain.ContactID) error

	// GetContact resolves a display name for a known contact, when the
	// platform exposes one. Returning ok=false is not an error.
	GetContact(ctx context.Context, contact domain.ContactID) (displayName string, ok bool)
	// GetContacts lists every contact the platform currently knows
	// about (e.g. an address book or chat list), when the platform
	// exposes one.
	GetContacts(ctx context.Context) ([]Contact, error)
	// NormalizeContactID maps a platform-specific raw identifier (a
	// phone number, a chat id string, whatever the transport's wire
	// format uses) to the canonical domain.ContactID this adapter
	// produces in its NormalizedMessage events.
	NormalizeContactID(raw string) domain.ContactID
}

// Factory builds an Adapter from its raw JSON configuration block.
type Factory func(rawConfig jsoniter.RawMessage) (Adapter, error)

var factories = make(map[domain.ChannelID]Factory)

// Register adds a Factory to the global registry. Platform packages
// call this from their init().
func Register(id domain.ChannelID, factory Factory) {
	factories[id] = factory
}

// Get retrieves a registered Factory by channel id.
func Get(id domain.ChannelID) (Factory, bool) {
	f, ok := factories[id]
	return f, ok
}

// Registered returns the channel ids currently registered.
func Registered() []domain.ChannelID {
	ids := make([]domain.ChannelID, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	return ids
}
