package hts

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/kv/kvtest"
)

type fakeSender struct {
	typingCalls int
	sent        []string
}

func (f *fakeSender) SendTypingIndicator(context.Context, domain.ContactID) error {
	f.typingCalls++
	return nil
}

func (f *fakeSender) SendMessage(_ context.Context, _ domain.ContactID, text string) (string, error) {
	f.sent = append(f.sent, text)
	return "msg-1", nil
}

func TestDelayCappedAtMax(t *testing.T) {
	d := New(kvtest.New(), events.NewInMemoryBus(), 400*time.Millisecond, 35*time.Millisecond, 600*time.Millisecond, 5000*time.Millisecond, time.Hour)
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "cap"}
	delay := d.delayFor(context.Background(), contact, 10000)
	require.Equal(t, 5000*time.Millisecond, delay)
}

func TestCognitivePauseIsZeroWithNoPriorMessage(t *testing.T) {
	d := New(kvtest.New(), events.NewInMemoryBus(), 0, 0, 600*time.Millisecond, 5000*time.Millisecond, time.Hour)
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "fresh"}
	require.Equal(t, time.Duration(0), d.cognitivePauseFor(context.Background(), contact))
}

func TestCognitivePauseIsBoundedByElapsedSinceLastMessage(t *testing.T) {
	store := kvtest.New()
	d := New(store, events.NewInMemoryBus(), 0, 0, 600*time.Millisecond, 5000*time.Millisecond, time.Hour)
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "recent"}

	require.NoError(t, store.SetLastMessageAt(context.Background(), contact, time.Now().Add(-100*time.Millisecond), time.Hour))
	pause := d.cognitivePauseFor(context.Background(), contact)
	require.Greater(t, pause, time.Duration(0))
	require.LessOrEqual(t, pause, 600*time.Millisecond)
}

func TestCognitivePauseCapsAtConfiguredMax(t *testing.T) {
	store := kvtest.New()
	d := New(store, events.NewInMemoryBus(), 0, 0, 600*time.Millisecond, 5000*time.Millisecond, time.Hour)
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "stale"}

	require.NoError(t, store.SetLastMessageAt(context.Background(), contact, time.Now().Add(-time.Hour), time.Hour))
	require.Equal(t, 600*time.Millisecond, d.cognitivePauseFor(context.Background(), contact))
}

func TestDelayIncludesBoundedJitter(t *testing.T) {
	d := New(kvtest.New(), events.NewInMemoryBus(), 400*time.Millisecond, 0, 0, 5000*time.Millisecond, time.Hour)
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "jitter"}
	for i := 0; i < 20; i++ {
		delay := d.delayFor(context.Background(), contact, 0)
		require.GreaterOrEqual(t, delay, 400*time.Millisecond)
		require.LessOrEqual(t, delay, 400*time.Millisecond+maxJitter)
	}
}

func TestSendWaitsAndDispatches(t *testing.T) {
	bus := events.NewInMemoryBus()
	defer bus.Close()
	d := New(kvtest.New(), bus, time.Millisecond, 0, time.Millisecond, time.Second, time.Hour)
	sender := &fakeSender{}
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "h1"}

	require.NoError(t, d.Send(context.Background(), sender, contact, "hi"))
	require.Equal(t, 1, sender.typingCalls)
	require.Equal(t, []string{"hi"}, sender.sent)
}

type failingSender struct{}

func (failingSender) SendTypingIndicator(context.Context, domain.ContactID) error { return nil }
func (failingSender) SendMessage(context.Context, domain.ContactID, string) (string, error) {
	return "", errors.New("send failed")
}

func TestSendCircuitBreakerTripsAfterRepeatedFailures(t *testing.T) {
	bus := events.NewInMemoryBus()
	defer bus.Close()
	d := New(kvtest.New(), bus, time.Millisecond, 0, time.Millisecond, time.Second, time.Hour)
	contact := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "h2"}

	for i := 0; i < 3; i++ {
		require.Error(t, d.Send(context.Background(), failingSender{}, contact, "hi"))
	}

	// The breaker is now open: Execute short-circuits without calling
	// SendMessage again, so the error comes back immediately.
	err := d.Send(context.Background(), failingSender{}, contact, "hi")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestSendCircuitBreakerIsPerChannel(t *testing.T) {
	bus := events.NewInMemoryBus()
	defer bus.Close()
	d := New(kvtest.New(), bus, time.Millisecond, 0, time.Millisecond, time.Second, time.Hour)
	failing := domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: "h3"}
	healthy := domain.ContactID{Channel: domain.ChannelWhatsApp, ExternalID: "h4"}

	for i := 0; i < 4; i++ {
		_ = d.Send(context.Background(), failingSender{}, failing, "hi")
	}

	sender := &fakeSender{}
	require.NoError(t, d.Send(context.Background(), sender, healthy, "hi"),
		"a tripped breaker on one channel must not affect another channel's sends")
}
