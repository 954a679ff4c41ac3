// Package admission implements the admission gate: the five-step
// decision procedure that decides whether an inbound message may
// enter the pipeline at all.
package admission

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"relay/internal/keyedmutex"
	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/mem"
)

// Decision is the admission gate's verdict for one message.
type Decision string

const (
	// DecisionAdmit lets the message proceed into the pipeline.
	DecisionAdmit Decision = "admit"
	// DecisionDropGroup silently drops a group-chat message.
	DecisionDropGroup Decision = "drop_group"
	// DecisionDenied silently drops a message from a denied contact
	// whose denial has not yet expired.
	DecisionDenied Decision = "denied"
	// DecisionPairingRequested means a PairingRequest was created (or
	// refreshed) and an automatic reply should be sent; the message
	// itself does not proceed to the pipeline.
	DecisionPairingRequested Decision = "pairing_requested"
)

// Gate implements the admission decision procedure against mem.Store.
// Every transition for a given contact — Evaluate as well as the
// Approve/Deny side channel an operator surface might call
// concurrently — is serialized per ContactID via locks, so a pending
// Evaluate can never race an operator's Approve/Deny for the same
// contact into an inconsistent PairingRequest/ApprovedContact pair.
type Gate struct {
	store                mem.Store
	bus                  events.Bus
	deniedTTL            time.Duration
	autoApproveOnHistory bool
	locks                *keyedmutex.Map[domain.ContactID]
}

func New(store mem.Store, bus events.Bus, deniedTTL time.Duration, autoApproveOnHistory bool) *Gate {
	return &Gate{
		store: store, bus: bus, deniedTTL: deniedTTL, autoApproveOnHistory: autoApproveOnHistory,
		locks: keyedmutex.New[domain.ContactID](),
	}
}

// Evaluate runs the five-step decision procedure:
//  1. group-chat messages are dropped outright;
//  2. an unexpired DeniedContact record drops the message silently;
//  3. an ApprovedContact record admits the message;
//  4. a contact with prior conversation history but no approval
//     record is auto-approved (covers a lost/never-written record);
//  5. otherwise a PairingRequest is created or refreshed and the
//     message is held back pending operator review.
func (g *Gate) Evaluate(ctx context.Context, msg domain.NormalizedMessage) (Decision, error) {
	if msg.IsGroup {
		return DecisionDropGroup, nil
	}

	g.locks.Lock(msg.Contact)
	defer g.locks.Unlock(msg.Contact)

	denied, err := g.store.GetDenied(ctx, msg.Contact)
	if err != nil {
		return "", errors.Wrap(err, "checking denied contact")
	}
	if denied != nil && time.Now().Before(denied.ExpiresAt) {
		return DecisionDenied, nil
	}

	approved, err := g.store.GetApproved(ctx, msg.Contact)
	if err != nil {
		return "", errors.Wrap(err, "checking approved contact")
	}
	if approved != nil {
		return DecisionAdmit, nil
	}

	if g.autoApproveOnHistory {
		hasHistory, err := g.store.HasPriorHistory(ctx, msg.Contact)
		if err != nil {
			return "", errors.Wrap(err, "checking prior history")
		}
		if hasHistory {
			if err := g.store.UpsertApproved(ctx, domain.ApprovedContact{
				Contact:      msg.Contact,
				Relationship: domain.RelationshipUnknown,
				Tier:         domain.TierStandard,
				ApprovedAt:   time.Now(),
				AutoApproved: true,
			}); err != nil {
				return "", errors.Wrap(err, "auto-approving contact with history")
			}
			return DecisionAdmit, nil
		}
	}

	preview := msg.Text
	if len(preview) > 200 {
		preview = preview[:200]
	}
	now := time.Now()
	existing, err := g.store.GetPairing(ctx, msg.Contact)
	if err != nil {
		return "", errors.Wrap(err, "checking pairing request")
	}
	req := domain.PairingRequest{
		Contact:   msg.Contact,
		Status:    domain.PairingPending,
		FirstSeen: now,
		LastSeen:  now,
		Preview:   preview,
	}
	if existing != nil {
		req.FirstSeen = existing.FirstSeen
	}
	if err := g.store.UpsertPairing(ctx, req); err != nil {
		return "", errors.Wrap(err, "upserting pairing request")
	}
	g.bus.Publish(events.New(events.KindPairingRequest, msg.Contact, req))
	return DecisionPairingRequested, nil
}

// ApprovedContact returns the stored ApprovedContact record, or nil if
// the contact has not been approved. Callers needing the contact's
// relationship/display-name after Evaluate has returned DecisionAdmit
// use this rather than re-implementing the lookup.
func (g *Gate) ApprovedContact(ctx context.Context, contact domain.ContactID) (*domain.ApprovedContact, error) {
	approved, err := g.store.GetApproved(ctx, contact)
	return approved, errors.Wrap(err, "loading approved contact")
}

// Approve approves a pending (or previously denied) contact,
// idempotently: last write wins. An empty tier defaults to standard.
func (g *Gate) Approve(ctx context.Context, contact domain.ContactID, relationship domain.RelationshipType, displayName string, tier domain.ContactTier) error {
	g.locks.Lock(contact)
	defer g.locks.Unlock(contact)

	if tier == "" {
		tier = domain.TierStandard
	}
	if err := g.store.ResolvePairing(ctx, contact, true); err != nil {
		return errors.Wrap(err, "resolving pairing request")
	}
	if err := g.store.UpsertApproved(ctx, domain.ApprovedContact{
		Contact:      contact,
		Relationship: relationship,
		DisplayName:  displayName,
		Tier:         tier,
		ApprovedAt:   time.Now(),
	}); err != nil {
		return errors.Wrap(err, "upserting approved contact")
	}
	g.bus.Publish(events.New(events.KindPairingApproved, contact, nil))
	return nil
}

// Deny denies a pending contact for the configured denial TTL.
func (g *Gate) Deny(ctx context.Context, contact domain.ContactID) error {
	g.locks.Lock(contact)
	defer g.locks.Unlock(contact)

	if err := g.store.ResolvePairing(ctx, contact, false); err != nil {
		return errors.Wrap(err, "resolving pairing request")
	}
	now := time.Now()
	return errors.Wrap(g.store.UpsertDenied(ctx, domain.DeniedContact{
		Contact:   contact,
		DeniedAt:  now,
		ExpiresAt: now.Add(g.deniedTTL),
	}), "upserting denied contact")
}
