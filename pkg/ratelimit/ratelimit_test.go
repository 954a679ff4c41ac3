package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/kv/kvtest"
	"relay/pkg/pause"
)

func testContact() domain.ContactID {
	return domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "123"}
}

func TestAllowUnderLimit(t *testing.T) {
	store := kvtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	pauseCtl := pause.New(store, bus)
	limiter := New(store, bus, pauseCtl, 3, time.Hour, true)
	c := testContact()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(context.Background(), c))
	}
}

func TestAllowTripsOverLimit(t *testing.T) {
	store := kvtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	pauseCtl := pause.New(store, bus)
	limiter := New(store, bus, pauseCtl, 2, time.Hour, true)
	c := testContact()

	require.NoError(t, limiter.Allow(context.Background(), c))
	require.NoError(t, limiter.Allow(context.Background(), c))
	err := limiter.Allow(context.Background(), c)
	require.ErrorIs(t, err, ErrLimitExceeded)
}

func TestAllowPausesContactOnBreachWhenAutoPauseEnabled(t *testing.T) {
	store := kvtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	pauseCtl := pause.New(store, bus)
	limiter := New(store, bus, pauseCtl, 1, time.Hour, true)
	c := testContact()

	require.NoError(t, limiter.Allow(context.Background(), c))
	require.ErrorIs(t, limiter.Allow(context.Background(), c), ErrLimitExceeded)

	paused, reason, err := pauseCtl.IsPaused(context.Background(), c)
	require.NoError(t, err)
	require.True(t, paused)
	require.Equal(t, domain.PauseRateLimit, reason)
}

func TestAllowDoesNotPauseWhenAutoPauseDisabled(t *testing.T) {
	store := kvtest.New()
	bus := events.NewInMemoryBus()
	defer bus.Close()
	pauseCtl := pause.New(store, bus)
	limiter := New(store, bus, pauseCtl, 1, time.Hour, false)
	c := testContact()

	require.NoError(t, limiter.Allow(context.Background(), c))
	require.ErrorIs(t, limiter.Allow(context.Background(), c), ErrLimitExceeded)

	paused, _, err := pauseCtl.IsPaused(context.Background(), c)
	require.NoError(t, err)
	require.False(t, paused)
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	store := kvtest.New()
	now := time.Now()
	store.Now = func() time.Time { return now }
	bus := events.NewInMemoryBus()
	defer bus.Close()
	pauseCtl := pause.New(store, bus)
	limiter := New(store, bus, pauseCtl, 1, time.Minute, true)
	c := testContact()

	require.NoError(t, limiter.Allow(context.Background(), c))
	require.ErrorIs(t, limiter.Allow(context.Background(), c), ErrLimitExceeded)

	now = now.Add(2 * time.Minute)
	require.NoError(t, limiter.Allow(context.Background(), c))
}
