package assembler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/pkg/domain"
	"relay/pkg/kv/kvtest"
	"relay/pkg/mem/memtest"
)

func TestAssembleUsesStoredPersonaForRelationship(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()

	require.NoError(t, store.UpsertPersona(ctx, domain.Persona{Relationship: domain.RelationshipFamily, SystemPrompt: "talk like family"}))

	defaultPersona := domain.Persona{Relationship: domain.RelationshipUnknown, SystemPrompt: "default"}
	a := New(store, kvStore, 10, time.Hour, time.Hour, defaultPersona)

	approved := domain.ApprovedContact{Contact: domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u1"}, Relationship: domain.RelationshipFamily, DisplayName: "Sam"}
	ctxResult := a.Assemble(ctx, approved, "")

	require.Equal(t, "talk like family", ctxResult.Persona.SystemPrompt)
	require.Equal(t, "Sam", ctxResult.DisplayName)
}

func TestAssembleFallsBackToDefaultPersonaWhenNoneStored(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()

	defaultPersona := domain.Persona{Relationship: domain.RelationshipUnknown, SystemPrompt: "default prompt"}
	a := New(store, kvStore, 10, time.Hour, time.Hour, defaultPersona)

	approved := domain.ApprovedContact{Contact: domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u2"}, Relationship: domain.RelationshipFriend}
	result := a.Assemble(ctx, approved, "")

	require.Equal(t, "default prompt", result.Persona.SystemPrompt)
}

func TestAssembleOverrideRelationshipTakesPrecedence(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()

	require.NoError(t, store.UpsertPersona(ctx, domain.Persona{Relationship: domain.RelationshipFriend, SystemPrompt: "friend persona"}))
	require.NoError(t, store.UpsertPersona(ctx, domain.Persona{Relationship: domain.RelationshipFamily, SystemPrompt: "family persona"}))

	defaultPersona := domain.Persona{Relationship: domain.RelationshipUnknown, SystemPrompt: "default"}
	a := New(store, kvStore, 10, time.Hour, time.Hour, defaultPersona)

	approved := domain.ApprovedContact{Contact: domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u3"}, Relationship: domain.RelationshipFriend}
	result := a.Assemble(ctx, approved, domain.RelationshipFamily)

	require.Equal(t, "family persona", result.Persona.SystemPrompt)
}

func TestAssembleReadsThroughStyleCacheBeforeStore(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u4"}

	require.NoError(t, kvStore.SetStyleCache(ctx, contact, "cached descriptor", time.Hour))
	require.NoError(t, store.UpsertStyleProfile(ctx, domain.StyleProfile{Contact: contact, SampleCount: 10}))

	a := New(store, kvStore, 10, time.Hour, time.Hour, domain.Persona{})
	result := a.Assemble(ctx, domain.ApprovedContact{Contact: contact}, "")

	require.Equal(t, "cached descriptor", result.StyleDescriptor)
}

func TestAssembleTrimsHistoryToMaxLen(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u5"}

	for i := 0; i < 5; i++ {
		require.NoError(t, kvStore.AppendHistory(ctx, contact, domain.ConversationMessage{
			ID:   string(rune('a' + i)),
			Text: "msg",
		}, 100, time.Hour))
	}

	a := New(store, kvStore, 2, time.Hour, time.Hour, domain.Persona{})
	result := a.Assemble(ctx, domain.ApprovedContact{Contact: contact}, "")

	require.Len(t, result.History, 2)
	require.Equal(t, "d", result.History[0].ID)
	require.Equal(t, "e", result.History[1].ID)
}

func TestAssembleExplicitPersonaIDTakesPrecedenceOverRelationship(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()

	require.NoError(t, store.UpsertPersona(ctx, domain.Persona{
		Relationship: domain.RelationshipFriend, SystemPrompt: "friend persona",
		ApplicableTo: []domain.RelationshipType{domain.RelationshipFriend},
	}))
	require.NoError(t, store.UpsertPersona(ctx, domain.Persona{
		ID: "vip", SystemPrompt: "vip persona", ApplicableTo: []domain.RelationshipType{domain.RelationshipClient},
	}))

	defaultPersona := domain.Persona{Relationship: domain.RelationshipUnknown, SystemPrompt: "default"}
	a := New(store, kvStore, 10, time.Hour, time.Hour, defaultPersona)

	approved := domain.ApprovedContact{
		Contact:      domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u7"},
		Relationship: domain.RelationshipFriend,
		PersonaID:    "vip",
	}
	result := a.Assemble(ctx, approved, "")

	require.Equal(t, "vip persona", result.Persona.SystemPrompt)
}

func TestAssemblePersonaSelectsByApplicableToSetMembership(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()

	require.NoError(t, store.UpsertPersona(ctx, domain.Persona{
		ID: "close-ones", SystemPrompt: "warm persona",
		ApplicableTo: []domain.RelationshipType{domain.RelationshipFamily, domain.RelationshipFriend, domain.RelationshipRomanticPartner},
	}))

	defaultPersona := domain.Persona{Relationship: domain.RelationshipUnknown, SystemPrompt: "default"}
	a := New(store, kvStore, 10, time.Hour, time.Hour, defaultPersona)

	approved := domain.ApprovedContact{
		Contact:      domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u8"},
		Relationship: domain.RelationshipRomanticPartner,
	}
	result := a.Assemble(ctx, approved, "")

	require.Equal(t, "warm persona", result.Persona.SystemPrompt)
}

func TestAssembleFallsBackToHardCodedPersonaWhenNoDefaultConfigured(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()

	a := New(store, kvStore, 10, time.Hour, time.Hour, domain.Persona{})

	approved := domain.ApprovedContact{Contact: domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u9"}, Relationship: domain.RelationshipAcquaintance}
	result := a.Assemble(ctx, approved, "")

	require.Equal(t, hardFallbackPersona.SystemPrompt, result.Persona.SystemPrompt)
}

func TestAssembleSkipsStyleDescriptorWhenTooFewSamples(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u10"}

	require.NoError(t, store.UpsertStyleProfile(ctx, domain.StyleProfile{Contact: contact, SampleCount: 3, AvgMessageLength: 50}))

	a := New(store, kvStore, 10, time.Hour, time.Hour, domain.Persona{})
	result := a.Assemble(ctx, domain.ApprovedContact{Contact: contact}, "")

	require.Empty(t, result.StyleDescriptor)
}

func TestAssembleIncludesGraphContextWhenPresent(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u11"}

	require.NoError(t, store.UpsertContext(ctx, domain.GraphContext{
		Contact:       contact,
		RelatedPeople: []string{"Jamie (sister)"},
		Topics:        []string{"the new apartment"},
	}))

	a := New(store, kvStore, 10, time.Hour, time.Hour, domain.Persona{})
	result := a.Assemble(ctx, domain.ApprovedContact{Contact: contact}, "")

	require.Contains(t, result.GraphContext, "Jamie (sister)")
	require.Contains(t, result.GraphContext, "the new apartment")
}

func TestAssembleDoesNotPanicWithEmptyStores(t *testing.T) {
	store := memtest.New()
	kvStore := kvtest.New()
	ctx := context.Background()

	defaultPersona := domain.Persona{SystemPrompt: "default"}
	a := New(store, kvStore, 10, time.Hour, time.Hour, defaultPersona)

	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "u6"}
	require.NotPanics(t, func() {
		a.Assemble(ctx, domain.ApprovedContact{Contact: contact}, "")
	})
}
