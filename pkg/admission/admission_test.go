package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/mem/memtest"
)

func msgFor(contact domain.ContactID) domain.NormalizedMessage {
	return domain.NormalizedMessage{ID: "m1", Contact: contact, Text: "hello there"}
}

func TestGroupChatIsDropped(t *testing.T) {
	store := memtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	gate := New(store, bus, time.Hour, true)

	msg := msgFor(domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "g1"})
	msg.IsGroup = true
	d, err := gate.Evaluate(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, DecisionDropGroup, d)
}

func TestDeniedContactIsDroppedUntilExpiry(t *testing.T) {
	store := memtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u1"}

	require.NoError(t, store.UpsertDenied(ctx, domain.DeniedContact{
		Contact: contact, DeniedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))
	gate := New(store, bus, time.Hour, true)
	d, err := gate.Evaluate(ctx, msgFor(contact))
	require.NoError(t, err)
	require.Equal(t, DecisionDenied, d)
}

func TestApprovedContactAdmits(t *testing.T) {
	store := memtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u2"}

	require.NoError(t, store.UpsertApproved(ctx, domain.ApprovedContact{Contact: contact, Relationship: domain.RelationshipFriend}))
	gate := New(store, bus, time.Hour, true)
	d, err := gate.Evaluate(ctx, msgFor(contact))
	require.NoError(t, err)
	require.Equal(t, DecisionAdmit, d)
}

func TestAutoApprovesOnPriorHistory(t *testing.T) {
	store := memtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u3"}
	store.SetPriorHistory(contact, true)

	gate := New(store, bus, time.Hour, true)
	d, err := gate.Evaluate(ctx, msgFor(contact))
	require.NoError(t, err)
	require.Equal(t, DecisionAdmit, d)

	approved, err := store.GetApproved(ctx, contact)
	require.NoError(t, err)
	require.NotNil(t, approved)
	require.True(t, approved.AutoApproved)
}

func TestUnknownContactCreatesPairingRequest(t *testing.T) {
	store := memtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u4"}

	gate := New(store, bus, time.Hour, true)
	d, err := gate.Evaluate(ctx, msgFor(contact))
	require.NoError(t, err)
	require.Equal(t, DecisionPairingRequested, d)

	req, err := store.GetPairing(ctx, contact)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, domain.PairingPending, req.Status)

	select {
	case ev := <-bus.Subscribe():
		require.Equal(t, events.KindPairingRequest, ev.Kind)
	default:
		t.Fatal("expected a pairing_request event")
	}
}

func TestApproveIsIdempotentLastWriteWins(t *testing.T) {
	store := memtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u5"}

	gate := New(store, bus, time.Hour, true)
	require.NoError(t, gate.Deny(ctx, contact))
	require.NoError(t, gate.Approve(ctx, contact, domain.RelationshipFriend, "Alex", domain.TierStandard))

	d, err := gate.Evaluate(ctx, msgFor(contact))
	require.NoError(t, err)
	require.Equal(t, DecisionAdmit, d)
}

// TestEvaluateAndApproveForSameContactDoNotInterleave exercises the
// per-contact lock directly: a concurrent Evaluate and Approve for the
// same contact must each run to completion without ever overlapping,
// while a contact on a different key never waits for either of them.
func TestEvaluateAndApproveForSameContactDoNotInterleave(t *testing.T) {
	store := memtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u6"}
	other := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u7"}

	gate := New(store, bus, time.Hour, true)

	var mu sync.Mutex
	var active int
	var sawOverlap bool
	track := func(fn func()) {
		mu.Lock()
		active++
		if active > 1 {
			sawOverlap = true
		}
		mu.Unlock()

		fn()

		mu.Lock()
		active--
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		track(func() { _, _ = gate.Evaluate(ctx, msgFor(contact)) })
	}()
	go func() {
		defer wg.Done()
		track(func() { _ = gate.Approve(ctx, contact, domain.RelationshipFriend, "Alex", domain.TierStandard) })
	}()
	go func() {
		defer wg.Done()
		// A different contact must not be blocked by the lock above.
		_, _ = gate.Evaluate(ctx, msgFor(other))
	}()
	wg.Wait()

	require.False(t, sawOverlap, "Evaluate and Approve for the same contact must not interleave")
}
