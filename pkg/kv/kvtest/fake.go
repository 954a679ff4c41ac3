// Package kvtest provides an in-memory kv.Store fake for unit tests
// across the packages that depend on kv.Store (ratelimit, pause,
// assembler, hts, and the background accumulators).
package kvtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"relay/pkg/domain"
	"relay/pkg/kv"
)

type deferredEntry struct {
	when    time.Time
	payload []byte
}

// Fake is a goroutine-safe, in-memory implementation of kv.Store.
type Fake struct {
	mu        sync.Mutex
	counters  map[string]int64
	expiries  map[string]time.Time
	pauses    map[string]domain.PauseState
	deferred  []deferredEntry
	history   map[string][]domain.ConversationMessage
	queues    map[string][][]byte
	stats     map[string]map[string]int64
	styleCache map[string]string
	styleExp   map[string]time.Time
	lastMsg    map[string]time.Time

	// Now, if set, overrides time.Now() for deterministic tests.
	Now func() time.Time
}

func New() *Fake {
	return &Fake{
		counters:   make(map[string]int64),
		expiries:   make(map[string]time.Time),
		pauses:     make(map[string]domain.PauseState),
		history:    make(map[string][]domain.ConversationMessage),
		queues:     make(map[string][][]byte),
		stats:      make(map[string]map[string]int64),
		styleCache: make(map[string]string),
		styleExp:   make(map[string]time.Time),
		lastMsg:    make(map[string]time.Time),
	}
}

func (f *Fake) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

var _ kv.Store = (*Fake)(nil)

func (f *Fake) IncrRateCounter(_ context.Context, contact domain.ContactID, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "COUNTER:" + contact.String()
	now := f.now()
	if exp, ok := f.expiries[key]; ok && now.After(exp) {
		f.counters[key] = 0
		delete(f.expiries, key)
	}
	f.counters[key]++
	if f.counters[key] == 1 {
		f.expiries[key] = now.Add(window)
	}
	return f.counters[key], nil
}

func (f *Fake) GlobalPauseKey() string { return "PAUSE:ALL" }
func (f *Fake) ContactPauseKey(contact domain.ContactID) string {
	return "PAUSE:" + contact.String()
}

func (f *Fake) GetPause(_ context.Context, key string) (*domain.PauseState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.pauses[key]
	if !ok {
		return nil, nil
	}
	if s.ExpireAt != nil && f.now().After(*s.ExpireAt) {
		delete(f.pauses, key)
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (f *Fake) SetPause(_ context.Context, key string, state domain.PauseState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses[key] = state
	return nil
}

func (f *Fake) ClearPause(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pauses, key)
	return nil
}

func (f *Fake) ScheduleDeferred(_ context.Context, when time.Time, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred = append(f.deferred, deferredEntry{when: when, payload: payload})
	return nil
}

func (f *Fake) PopDueDeferred(_ context.Context, now time.Time) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []deferredEntry
	var remaining []deferredEntry
	for _, e := range f.deferred {
		if !e.when.After(now) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	f.deferred = remaining
	sort.Slice(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	out := make([][]byte, len(due))
	for i, e := range due {
		out[i] = e.payload
	}
	return out, nil
}

func (f *Fake) AppendHistory(_ context.Context, contact domain.ContactID, msg domain.ConversationMessage, maxLen int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := contact.String()
	list := f.history[key]
	for _, existing := range list {
		if existing.ID == msg.ID {
			return nil
		}
	}
	list = append(list, msg)
	if len(list) > maxLen {
		list = list[len(list)-maxLen:]
	}
	f.history[key] = list
	return nil
}

func (f *Fake) GetHistory(_ context.Context, contact domain.ContactID) ([]domain.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ConversationMessage{}, f.history[contact.String()]...), nil
}

func (f *Fake) PushQueue(_ context.Context, queue string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[queue] = append(f.queues[queue], payload)
	return nil
}

func (f *Fake) PopQueue(_ context.Context, queue string, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.queues[queue]
	if len(list) == 0 {
		return nil, nil
	}
	item := list[0]
	f.queues[queue] = list[1:]
	return item, nil
}

func (f *Fake) IncrTokenStats(_ context.Context, dateKey, kind string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stats[dateKey] == nil {
		f.stats[dateKey] = make(map[string]int64)
	}
	f.stats[dateKey][kind] += n
	return nil
}

// TokenStats exposes the accumulated counters for assertions in tests.
func (f *Fake) TokenStats(dateKey string) map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.stats[dateKey]))
	for k, v := range f.stats[dateKey] {
		out[k] = v
	}
	return out
}

func (f *Fake) GetStyleCache(_ context.Context, contact domain.ContactID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := contact.String()
	if exp, ok := f.styleExp[key]; ok && f.now().After(exp) {
		delete(f.styleCache, key)
		delete(f.styleExp, key)
		return "", false, nil
	}
	v, ok := f.styleCache[key]
	return v, ok, nil
}

func (f *Fake) SetStyleCache(_ context.Context, contact domain.ContactID, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := contact.String()
	f.styleCache[key] = value
	f.styleExp[key] = f.now().Add(ttl)
	return nil
}

func (f *Fake) GetLastMessageAt(_ context.Context, contact domain.ContactID) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.lastMsg[contact.String()]
	return t, ok, nil
}

func (f *Fake) SetLastMessageAt(_ context.Context, contact domain.ContactID, at time.Time, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMsg[contact.String()] = at
	return nil
}

func (f *Fake) Close() error { return nil }
