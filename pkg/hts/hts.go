// Package hts implements the human-typing-simulation dispatcher: a
// bounded, length-proportional delay plus a cognitive pause that grows
// with the time since the contact's last message, waited out before
// the typing indicator and the reply are actually sent, so responses
// don't read as instantaneous.
package hts

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/kv"
)

// maxJitter bounds the uniform random jitter added to every send's
// delay, so two back-to-back replies never land at identical offsets.
const maxJitter = 500 * time.Millisecond

// Sender is the minimum channel.Adapter surface the dispatcher needs.
type Sender interface {
	SendTypingIndicator(ctx context.Context, contact domain.ContactID) error
	SendMessage(ctx context.Context, contact domain.ContactID, text string) (string, error)
}

// Dispatcher paces and sends outgoing messages.
type Dispatcher struct {
	kv             kv.Store
	bus            events.Bus
	baseDelay      time.Duration
	msPerChar      time.Duration
	cognitivePause time.Duration
	maxDelay       time.Duration
	lastMessageTTL time.Duration

	breakersMu sync.Mutex
	breakers   map[domain.ChannelID]*gobreaker.CircuitBreaker
}

func New(kvStore kv.Store, bus events.Bus, baseDelay time.Duration, msPerChar time.Duration, cognitivePause, maxDelay, lastMessageTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		kv: kvStore, bus: bus,
		baseDelay: baseDelay, msPerChar: msPerChar,
		cognitivePause: cognitivePause, maxDelay: maxDelay, lastMessageTTL: lastMessageTTL,
		breakers: make(map[domain.ChannelID]*gobreaker.CircuitBreaker),
	}
}

// breakerFor returns the lazily-created circuit breaker guarding sends
// on channel, one per channel id so a failing WhatsApp session can
// trip without affecting Telegram sends.
func (d *Dispatcher) breakerFor(channel domain.ChannelID) *gobreaker.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	b, ok := d.breakers[channel]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "send:" + string(channel),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
		})
		d.breakers[channel] = b
	}
	return b
}

// cognitivePauseFor returns the "time to notice and think about the
// message" component of the delay: zero if the contact has no prior
// message on record (nothing to react to yet), otherwise the time
// elapsed since that last message, capped at the configured
// cognitivePause — bounded and monotonic in elapsed time, per the
// core's pacing requirement, rather than a flat constant tacked onto
// every reply regardless of how the conversation has been flowing.
func (d *Dispatcher) cognitivePauseFor(ctx context.Context, contact domain.ContactID) time.Duration {
	last, ok, err := d.kv.GetLastMessageAt(ctx, contact)
	if err != nil || !ok {
		return 0
	}
	elapsed := time.Since(last)
	if elapsed > d.cognitivePause {
		return d.cognitivePause
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// delayFor computes the typing delay for a reply of the given length:
// a base delay, plus a per-character typing cost, plus the elapsed-
// time-bounded cognitive pause, plus uniform jitter in [0, maxJitter],
// capped at maxDelay so a long reply never produces an implausibly
// long silence.
func (d *Dispatcher) delayFor(ctx context.Context, contact domain.ContactID, textLen int) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(maxJitter) + 1))
	delay := d.baseDelay + time.Duration(textLen)*d.msPerChar + d.cognitivePauseFor(ctx, contact) + jitter
	if delay > d.maxDelay {
		delay = d.maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Send waits out the computed delay, signals typing, then sends text
// via sender. Failures mark the message failed and
// publish message_status without automatic retry — a send failure
// here almost always means a transport-level problem the operator
// needs to see, not one worth silently retrying.
func (d *Dispatcher) Send(ctx context.Context, sender Sender, contact domain.ContactID, text string) error {
	delay := d.delayFor(ctx, contact, len([]rune(text)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := sender.SendTypingIndicator(ctx, contact); err != nil {
		// Typing indicator failures are cosmetic; proceed to send regardless.
	}

	result, err := d.breakerFor(contact.Channel).Execute(func() (any, error) {
		return sender.SendMessage(ctx, contact, text)
	})
	var id string
	if err == nil {
		id = result.(string)
	}
	if err != nil {
		d.bus.Publish(events.New(events.KindMessageStatus, contact, map[string]any{
			"status": "failed",
			"error":  err.Error(),
		}))
		return errors.Wrap(err, "dispatching message")
	}

	if err := d.kv.SetLastMessageAt(ctx, contact, time.Now(), d.lastMessageTTL); err != nil {
		// Pacing state is best-effort; not fatal to the send itself.
	}

	d.bus.Publish(events.New(events.KindMessageStatus, contact, map[string]any{
		"status":    "sent",
		"messageId": id,
	}))
	return nil
}
