package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/pkg/domain"
	"relay/pkg/kv/kvtest"
	"relay/pkg/mem/memtest"
)

func TestExtractDetectsFamilyTerm(t *testing.T) {
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "r1"}
	signals := Extract(contact, "hey mom, are you free later?")
	require.Len(t, signals, 1)
	require.Equal(t, domain.SignalFamilyTerm, signals[0].Kind)
}

func TestHighConfidenceOverride(t *testing.T) {
	signals := []domain.RelationshipSignal{{Kind: domain.SignalFormalAddress, Confidence: 0.92}}
	rel, ok := HighConfidenceOverride(signals)
	require.True(t, ok)
	require.Equal(t, domain.RelationshipAcquaintance, rel)
}

func TestNeverDowngradesFamilyToAcquaintance(t *testing.T) {
	require.True(t, isDowngradeToAcquaintance(domain.RelationshipFamily, domain.RelationshipAcquaintance))
	require.True(t, isDowngradeToAcquaintance(domain.RelationshipFriend, domain.RelationshipAcquaintance))
	require.False(t, isDowngradeToAcquaintance(domain.RelationshipAcquaintance, domain.RelationshipFriend))
}

func TestApplyBatchPromotesAfterMinSignalsAndDelta(t *testing.T) {
	kvStore := kvtest.New()
	memStore := memtest.New()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "r2"}
	ctx := context.Background()

	require.NoError(t, memStore.UpsertApproved(ctx, domain.ApprovedContact{
		Contact: contact, Relationship: domain.RelationshipAcquaintance,
	}))

	acc := NewAccumulator(kvStore, memStore, 10, 30*time.Second, 0.95, 3, 0.3)

	signals := []domain.RelationshipSignal{
		{Contact: contact, Kind: domain.SignalFamilyTerm, Confidence: 0.7},
		{Contact: contact, Kind: domain.SignalFamilyTerm, Confidence: 0.7},
		{Contact: contact, Kind: domain.SignalFamilyTerm, Confidence: 0.7},
	}
	require.NoError(t, acc.applyBatch(ctx, contact, signals))

	approved, err := memStore.GetApproved(ctx, contact)
	require.NoError(t, err)
	require.Equal(t, domain.RelationshipFamily, approved.Relationship)
}
