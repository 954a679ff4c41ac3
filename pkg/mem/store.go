// Package mem is the durable store for everything that must survive
// beyond the KV layer's TTL-bounded caches: pairing requests, approved
// and denied contacts, personas, style profiles, and the event outbox
// schema events.PersistentBus writes through.
package mem

import (
	"context"
	"time"

	"relay/pkg/domain"
)

// Store is the durable-storage contract. Postgres/pgx is the
// production implementation; memtest provides an in-memory fake.
type Store interface {
	GetPairing(ctx context.Context, contact domain.ContactID) (*domain.PairingRequest, error)
	UpsertPairing(ctx context.Context, req domain.PairingRequest) error
	ResolvePairing(ctx context.Context, contact domain.ContactID, approve bool) error

	GetApproved(ctx context.Context, contact domain.ContactID) (*domain.ApprovedContact, error)
	UpsertApproved(ctx context.Context, approved domain.ApprovedContact) error

	GetDenied(ctx context.Context, contact domain.ContactID) (*domain.DeniedContact, error)
	UpsertDenied(ctx context.Context, denied domain.DeniedContact) error

	// HasPriorHistory reports whether a contact has ever exchanged
	// messages, the signal the admission gate uses to auto-approve
	// a returning contact whose approval record was lost.
	HasPriorHistory(ctx context.Context, contact domain.ContactID) (bool, error)
	// RecordMessageSeen appends a message_log row so later
	// HasPriorHistory checks for this contact succeed, even if its
	// ApprovedContact record is later lost or never written.
	RecordMessageSeen(ctx context.Context, contact domain.ContactID, at time.Time) error

	GetPersona(ctx context.Context, relationship domain.RelationshipType) (*domain.Persona, error)
	UpsertPersona(ctx context.Context, persona domain.Persona) error
	// GetPersonaByID fetches a persona by its explicit id, for the
	// per-contact PersonaID override step of persona selection.
	GetPersonaByID(ctx context.Context, id string) (*domain.Persona, error)

	// GetContext returns the graph/contact-info recall (related
	// people, topics, events) known for a contact, or nil if none is
	// recorded. Populated out-of-band by whatever process maintains
	// the knowledge graph; the gateway only reads it.
	GetContext(ctx context.Context, contact domain.ContactID) (*domain.GraphContext, error)
	UpsertContext(ctx context.Context, graphCtx domain.GraphContext) error

	GetStyleProfile(ctx context.Context, contact domain.ContactID) (*domain.StyleProfile, error)
	UpsertStyleProfile(ctx context.Context, profile domain.StyleProfile) error

	GetAccumulatedScores(ctx context.Context, contact domain.ContactID) (*domain.AccumulatedScores, error)
	SaveAccumulatedScores(ctx context.Context, scores domain.AccumulatedScores) error

	Close()
}

// NotFoundTime is returned by time-based lookups to mean "never".
var NotFoundTime = time.Time{}
