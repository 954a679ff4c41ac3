// Package pause implements the pause controller: global and
// per-contact pause flags with no implicit expiry except the "sleep"
// reason, which clears itself once sleep hours end.
package pause

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/kv"
)

// Controller reads and writes pause state through kv.Store and
// announces every transition on the event bus.
type Controller struct {
	store kv.Store
	bus   events.Bus
}

func New(store kv.Store, bus events.Bus) *Controller {
	return &Controller{store: store, bus: bus}
}

// IsPaused reports whether the given contact is currently paused,
// either globally or specifically, along with the reason that is
// blocking it (global takes precedence when both are set).
func (c *Controller) IsPaused(ctx context.Context, contact domain.ContactID) (bool, domain.PauseReason, error) {
	global, err := c.store.GetPause(ctx, c.store.GlobalPauseKey())
	if err != nil {
		return false, "", errors.Wrap(err, "reading global pause")
	}
	if global != nil && global.Paused {
		return true, global.Reason, nil
	}
	contactState, err := c.store.GetPause(ctx, c.store.ContactPauseKey(contact))
	if err != nil {
		return false, "", errors.Wrap(err, "reading contact pause")
	}
	if contactState != nil && contactState.Paused {
		return true, contactState.Reason, nil
	}
	return false, "", nil
}

// PauseGlobal pauses every contact until explicitly resumed.
func (c *Controller) PauseGlobal(ctx context.Context, setBy string) error {
	return c.set(ctx, c.store.GlobalPauseKey(), domain.ContactID{}, domain.PauseState{
		Paused: true, Reason: domain.PauseGlobal, SetAt: time.Now(), SetBy: setBy,
	})
}

// ResumeGlobal clears the global pause.
func (c *Controller) ResumeGlobal(ctx context.Context) error {
	if err := c.store.ClearPause(ctx, c.store.GlobalPauseKey()); err != nil {
		return errors.Wrap(err, "clearing global pause")
	}
	c.bus.Publish(events.New(events.KindPauseUpdate, domain.ContactID{}, map[string]any{"paused": false, "scope": "global"}))
	return nil
}

// PauseContact pauses a single contact until explicitly resumed.
func (c *Controller) PauseContact(ctx context.Context, contact domain.ContactID, setBy string) error {
	return c.set(ctx, c.store.ContactPauseKey(contact), contact, domain.PauseState{
		Paused: true, Reason: domain.PauseContact, SetAt: time.Now(), SetBy: setBy,
	})
}

// ResumeContact clears a contact's pause.
func (c *Controller) ResumeContact(ctx context.Context, contact domain.ContactID) error {
	if err := c.store.ClearPause(ctx, c.store.ContactPauseKey(contact)); err != nil {
		return errors.Wrap(err, "clearing contact pause")
	}
	c.bus.Publish(events.New(events.KindPauseUpdate, contact, map[string]any{"paused": false, "scope": "contact"}))
	return nil
}

// PauseFromMe marks a contact paused because the operator replied
// manually (own-echo detection in the channel layer).
func (c *Controller) PauseFromMe(ctx context.Context, contact domain.ContactID) error {
	return c.set(ctx, c.store.ContactPauseKey(contact), contact, domain.PauseState{
		Paused: true, Reason: domain.PauseFromMe, SetAt: time.Now(),
	})
}

// PauseRateLimit marks a contact paused because it tripped the rate
// limiter, expiring automatically at expireAt.
func (c *Controller) PauseRateLimit(ctx context.Context, contact domain.ContactID, expireAt time.Time) error {
	return c.set(ctx, c.store.ContactPauseKey(contact), contact, domain.PauseState{
		Paused: true, Reason: domain.PauseRateLimit, SetAt: time.Now(), ExpireAt: &expireAt,
	})
}

// PauseSleep marks a contact deferred for sleep hours, expiring
// automatically at the next wake time.
func (c *Controller) PauseSleep(ctx context.Context, contact domain.ContactID, wakeAt time.Time) error {
	return c.set(ctx, c.store.ContactPauseKey(contact), contact, domain.PauseState{
		Paused: true, Reason: domain.PauseSleep, SetAt: time.Now(), ExpireAt: &wakeAt,
	})
}

func (c *Controller) set(ctx context.Context, key string, contact domain.ContactID, state domain.PauseState) error {
	if err := c.store.SetPause(ctx, key, state); err != nil {
		return errors.Wrap(err, "writing pause state")
	}
	scope := "contact"
	if key == c.store.GlobalPauseKey() {
		scope = "global"
	}
	c.bus.Publish(events.New(events.KindPauseUpdate, contact, map[string]any{
		"paused": true, "reason": state.Reason, "scope": scope,
	}))
	return nil
}
