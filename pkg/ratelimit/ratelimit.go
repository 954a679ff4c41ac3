// Package ratelimit enforces the per-contact message rate: a sliding
// fixed window counted in the kv store, atomically incremented so
// that the window's TTL is only ever set by the call that creates the
// counter.
package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/kv"
	"relay/pkg/pause"
)

// ErrLimitExceeded is returned by Allow once a contact's window is full.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter enforces SystemConfig.RateLimitMaxMessages per
// RateLimitWindowSec, per contact.
type Limiter struct {
	store       kv.Store
	bus         events.Bus
	pauseCtl    *pause.Controller
	maxMessages int64
	window      time.Duration
	autoPause   bool
}

// New builds a Limiter. When autoPause is set, a breach also sets a
// PAUSE:{contactId} entry with reason=rate_limit that expires at the
// end of the current window, so a contact that blows through its
// limit stops getting replies rather than just getting 429'd forever.
func New(store kv.Store, bus events.Bus, pauseCtl *pause.Controller, maxMessages int, window time.Duration, autoPause bool) *Limiter {
	return &Limiter{store: store, bus: bus, pauseCtl: pauseCtl, maxMessages: int64(maxMessages), window: window, autoPause: autoPause}
}

// Allow increments the contact's counter and returns nil if the
// message may proceed, or ErrLimitExceeded if the window is full.
// On KV unreachability it fails open (allows the message) per the
// core's error-handling policy for non-critical external dependencies,
// publishing a rate_limit event either way so the operator can see
// both a trip and a fail-open.
func (l *Limiter) Allow(ctx context.Context, contact domain.ContactID) error {
	count, err := l.store.IncrRateCounter(ctx, contact, l.window)
	if err != nil {
		l.bus.Publish(events.New(events.KindRateLimit, contact, map[string]any{
			"failOpen": true,
			"error":    err.Error(),
		}))
		return nil
	}
	if count > l.maxMessages {
		l.bus.Publish(events.New(events.KindRateLimit, contact, map[string]any{
			"count":   count,
			"limit":   l.maxMessages,
			"tripped": true,
		}))
		if l.autoPause {
			if err := l.pauseCtl.PauseRateLimit(ctx, contact, time.Now().Add(l.window)); err != nil {
				return errors.Wrap(err, "pausing contact after rate limit breach")
			}
		}
		return ErrLimitExceeded
	}
	return nil
}
