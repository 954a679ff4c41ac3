package pause

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/kv/kvtest"
)

func testContact() domain.ContactID {
	return domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "42"}
}

func TestGlobalPauseBlocksEveryContact(t *testing.T) {
	store := kvtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctrl := New(store, bus)
	ctx := context.Background()

	require.NoError(t, ctrl.PauseGlobal(ctx, "operator"))
	paused, reason, err := ctrl.IsPaused(ctx, testContact())
	require.NoError(t, err)
	require.True(t, paused)
	require.Equal(t, domain.PauseGlobal, reason)

	require.NoError(t, ctrl.ResumeGlobal(ctx))
	paused, _, err = ctrl.IsPaused(ctx, testContact())
	require.NoError(t, err)
	require.False(t, paused)
}

func TestContactPauseIsIndependentOfOthers(t *testing.T) {
	store := kvtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctrl := New(store, bus)
	ctx := context.Background()

	c1 := testContact()
	c2 := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "99"}

	require.NoError(t, ctrl.PauseContact(ctx, c1, "operator"))
	p1, _, _ := ctrl.IsPaused(ctx, c1)
	p2, _, _ := ctrl.IsPaused(ctx, c2)
	require.True(t, p1)
	require.False(t, p2)
}

func TestSleepWindowWraparound(t *testing.T) {
	w, err := ParseSleepWindow("23:00", "07:00")
	require.NoError(t, err)

	late := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	early := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	day := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, w.Contains(late))
	require.True(t, w.Contains(early))
	require.False(t, w.Contains(day))

	wake := w.NextWake(late)
	require.Equal(t, time.Date(2026, 1, 2, 7, 0, 0, 0, time.UTC), wake)
}

func TestDeferDuringSleepRoundTrips(t *testing.T) {
	store := kvtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	ctrl := New(store, bus)
	ctx := context.Background()

	window, err := ParseSleepWindow("23:00", "07:00")
	require.NoError(t, err)

	msg := domain.NormalizedMessage{ID: "m1", Contact: testContact(), Text: "hi"}
	require.NoError(t, ctrl.DeferDuringSleep(ctx, window, msg))

	paused, reason, err := ctrl.IsPaused(ctx, testContact())
	require.NoError(t, err)
	require.True(t, paused)
	require.Equal(t, domain.PauseSleep, reason)

	due, err := ctrl.DrainDue(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "m1", due[0].ID)
}
