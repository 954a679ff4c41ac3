package kv

import (
	"context"
	"time"

	"relay/pkg/domain"
)

// Store is the gateway's key-value contract. Redis is the production
// implementation (store_redis.go); kvtest provides an in-memory fake
// for unit tests.
type Store interface {
	// IncrRateCounter atomically increments the contact's rate
	// counter and sets its expiry to window the first time it goes
	// 0->1, returning the post-increment count. This is the single
	// round trip the rate limiter's invariant depends on.
	IncrRateCounter(ctx context.Context, contact domain.ContactID, window time.Duration) (int64, error)

	// GetPause returns the pause state for the given key ("" for
	// global, or a contact key), or nil if no pause is set.
	GetPause(ctx context.Context, key string) (*domain.PauseState, error)
	SetPause(ctx context.Context, key string, state domain.PauseState) error
	ClearPause(ctx context.Context, key string) error

	// GlobalPauseKey and ContactPauseKey format the keys GetPause et
	// al. expect, keeping the PAUSE: naming centralized.
	GlobalPauseKey() string
	ContactPauseKey(contact domain.ContactID) string

	// ScheduleDeferred enqueues a serialized message for delivery at
	// or after when, in a structure sorted by when.
	ScheduleDeferred(ctx context.Context, when time.Time, payload []byte) error
	// PopDueDeferred removes and returns every deferred entry whose
	// scheduled time is <= now.
	PopDueDeferred(ctx context.Context, now time.Time) ([][]byte, error)

	// AppendHistory appends msg to the contact's bounded history,
	// trimming to maxLen and refreshing ttl.
	AppendHistory(ctx context.Context, contact domain.ContactID, msg domain.ConversationMessage, maxLen int, ttl time.Duration) error
	GetHistory(ctx context.Context, contact domain.ContactID) ([]domain.ConversationMessage, error)

	// PushQueue/PopQueue implement the relationship-signal queue
	// (and any other simple FIFO queues) as a Redis list.
	PushQueue(ctx context.Context, queue string, payload []byte) error
	PopQueue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)

	// IncrTokenStats adds n to the named token-usage counter for
	// dateKey (e.g. "input", "output", "cache_read", "cache_write").
	IncrTokenStats(ctx context.Context, dateKey, kind string, n int64) error

	// GetStyleCache/SetStyleCache cache the assembled style
	// descriptor text for a contact.
	GetStyleCache(ctx context.Context, contact domain.ContactID) (string, bool, error)
	SetStyleCache(ctx context.Context, contact domain.ContactID, value string, ttl time.Duration) error

	// GetLastMessageAt/SetLastMessageAt back the HTS dispatcher's
	// per-contact pacing state.
	GetLastMessageAt(ctx context.Context, contact domain.ContactID) (time.Time, bool, error)
	SetLastMessageAt(ctx context.Context, contact domain.ContactID, at time.Time, ttl time.Duration) error

	Close() error
}
