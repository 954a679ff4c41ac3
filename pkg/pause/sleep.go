package pause

import (
	"context"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"relay/pkg/domain"
)

// SleepWindow is a parsed "HH:MM"-"HH:MM" sleep window that may wrap
// past midnight (e.g. 23:00 to 07:00).
type SleepWindow struct {
	startMinutes int
	endMinutes   int
}

// ParseSleepWindow parses two "HH:MM" wall-clock strings.
func ParseSleepWindow(start, end string) (SleepWindow, error) {
	s, err := parseHHMM(start)
	if err != nil {
		return SleepWindow{}, errors.Wrap(err, "parsing sleep start")
	}
	e, err := parseHHMM(end)
	if err != nil {
		return SleepWindow{}, errors.Wrap(err, "parsing sleep end")
	}
	return SleepWindow{startMinutes: s, endMinutes: e}, nil
}

func parseHHMM(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, errors.Errorf("expected HH:MM, got %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// Contains reports whether t's local wall-clock time falls inside the
// window, handling the case where the window wraps past midnight.
func (w SleepWindow) Contains(t time.Time) bool {
	minutes := t.Hour()*60 + t.Minute()
	if w.startMinutes <= w.endMinutes {
		return minutes >= w.startMinutes && minutes < w.endMinutes
	}
	// Wraps past midnight: e.g. 23:00 -> 07:00.
	return minutes >= w.startMinutes || minutes < w.endMinutes
}

// NextWake returns the next time strictly after t that the window ends.
func (w SleepWindow) NextWake(t time.Time) time.Time {
	endOfDay := time.Date(t.Year(), t.Month(), t.Day(), w.endMinutes/60, w.endMinutes%60, 0, 0, t.Location())
	if !t.Before(endOfDay) {
		endOfDay = endOfDay.Add(24 * time.Hour)
	}
	return endOfDay
}

// deferredPayload is what gets serialized into DEFERRED:messages.
type deferredPayload struct {
	Message domain.NormalizedMessage `json:"message"`
}

// DeferDuringSleep schedules msg for redelivery once the sleep window
// ends, and marks the contact paused with reason=sleep until then.
func (c *Controller) DeferDuringSleep(ctx context.Context, window SleepWindow, msg domain.NormalizedMessage) error {
	now := time.Now()
	wake := window.NextWake(now)
	if err := c.PauseSleep(ctx, msg.Contact, wake); err != nil {
		return err
	}
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(deferredPayload{Message: msg})
	if err != nil {
		return errors.Wrap(err, "encoding deferred message")
	}
	return errors.Wrap(c.store.ScheduleDeferred(ctx, wake, raw), "scheduling deferred message")
}

// DrainDue pops every deferred message due at or before now and
// returns the original messages in scheduled order, ready for
// resubmission to the pipeline.
func (c *Controller) DrainDue(ctx context.Context, now time.Time) ([]domain.NormalizedMessage, error) {
	raws, err := c.store.PopDueDeferred(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "popping due deferred messages")
	}
	out := make([]domain.NormalizedMessage, 0, len(raws))
	for _, raw := range raws {
		var p deferredPayload
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &p); err != nil {
			continue
		}
		out = append(out, p.Message)
	}
	return out, nil
}
