package events

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
)

// PersistentBus wraps InMemoryBus and durably records every event in
// Postgres (idempotent on event id) so a restart can replay whatever
// was published but never marked processed — this is what lets the
// gateway resume pause/rate-limit state across a restart without
// redefining the KV/MEM storage format, per the core's restart-resume
// requirement.
//
// Required table, created by pkg/mem's schema bootstrap:
//
//	CREATE TABLE IF NOT EXISTS gateway_events (
//	    event_id     UUID PRIMARY KEY,
//	    kind         TEXT NOT NULL,
//	    contact      TEXT,
//	    payload      JSONB,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    processed_at TIMESTAMPTZ
//	);
type PersistentBus struct {
	mem  *InMemoryBus
	pool *pgxpool.Pool
}

func NewPersistentBus(pool *pgxpool.Pool) *PersistentBus {
	return &PersistentBus{mem: NewInMemoryBus(), pool: pool}
}

func (b *PersistentBus) Publish(event Event) {
	payload, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(event.Payload)
	if err != nil {
		slog.Error("encoding event payload", "error", err)
		payload = nil
	}
	_, err = b.pool.Exec(context.Background(),
		`INSERT INTO gateway_events (event_id, kind, contact, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id) DO NOTHING`,
		event.ID, string(event.Kind), event.Contact.String(), payload, event.CreatedAt,
	)
	if err != nil {
		slog.Error("persisting event", "event_id", event.ID, "error", err)
	}
	b.mem.Publish(event)
}

// ReplayUnprocessed republishes every event with a NULL processed_at,
// oldest first. Call once at startup after the schema exists.
func (b *PersistentBus) ReplayUnprocessed(ctx context.Context) error {
	rows, err := b.pool.Query(ctx,
		`SELECT event_id, kind, contact, created_at
		 FROM gateway_events WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var ev Event
		var kind, contact string
		if err := rows.Scan(&ev.ID, &kind, &contact, &ev.CreatedAt); err != nil {
			return err
		}
		ev.Kind = Kind(kind)
		b.mem.Publish(ev)
		count++
	}
	if count > 0 {
		slog.Info("replayed unprocessed events", "count", count)
	}
	return rows.Err()
}

// MarkProcessed stamps processed_at so the event is not replayed again.
func (b *PersistentBus) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := b.pool.Exec(ctx, `UPDATE gateway_events SET processed_at = NOW() WHERE event_id = $1`, eventID)
	return err
}

func (b *PersistentBus) Subscribe() <-chan Event { return b.mem.Subscribe() }
func (b *PersistentBus) Close()                  { b.mem.Close() }
