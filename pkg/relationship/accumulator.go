package relationship

import (
	"context"
	"log/slog"
	"math"
	"time"

	"relay/pkg/domain"
	"relay/pkg/kv"
	"relay/pkg/mem"
)

const signalQueueName = "relationship_signals"

// Accumulator consumes domain.RelationshipSignal entries off the KV
// queue in batches (10 signals or every 30s, whichever comes first),
// applies exponential decay to older evidence, and updates each
// contact's relationship type only when the evidence clears both a
// minimum-signal-count and minimum-score-delta gate — and never
// downgrades an established family/friend relationship to
// acquaintance, since a single off-register message shouldn't undo
// months of established rapport.
type Accumulator struct {
	kv    kv.Store
	mem   mem.Store

	batchSize    int
	batchWait    time.Duration
	decayPerDay  float64
	minSignals   int
	minDelta     float64
}

func NewAccumulator(kvStore kv.Store, memStore mem.Store, batchSize int, batchWait time.Duration, decayPerDay float64, minSignals int, minDelta float64) *Accumulator {
	return &Accumulator{
		kv: kvStore, mem: memStore,
		batchSize: batchSize, batchWait: batchWait,
		decayPerDay: decayPerDay, minSignals: minSignals, minDelta: minDelta,
	}
}

// Enqueue pushes a batch of freshly detected signals onto the shared
// KV queue for the background loop to consume.
func (a *Accumulator) Enqueue(ctx context.Context, signals []domain.RelationshipSignal) error {
	for _, s := range signals {
		raw, err := jsonMarshal(s)
		if err != nil {
			return err
		}
		if err := a.kv.PushQueue(ctx, signalQueueName, raw); err != nil {
			return err
		}
	}
	return nil
}

// Run drains the queue in batches of batchSize, or every batchWait
// if fewer have arrived, until ctx is cancelled.
func (a *Accumulator) Run(ctx context.Context) error {
	var batch []domain.RelationshipSignal
	deadline := time.Now().Add(a.batchWait)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if len(batch) > 0 {
				a.process(ctx, batch)
				batch = nil
			}
			deadline = time.Now().Add(a.batchWait)
			remaining = a.batchWait
		}

		raw, err := a.kv.PopQueue(ctx, signalQueueName, minDuration(remaining, time.Second))
		if err != nil {
			slog.Error("relationship accumulator pop failed", "error", err)
			continue
		}
		if raw == nil {
			continue
		}
		var sig domain.RelationshipSignal
		if err := jsonUnmarshal(raw, &sig); err != nil {
			continue
		}
		batch = append(batch, sig)
		if len(batch) >= a.batchSize {
			a.process(ctx, batch)
			batch = nil
			deadline = time.Now().Add(a.batchWait)
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (a *Accumulator) process(ctx context.Context, batch []domain.RelationshipSignal) {
	byContact := map[string][]domain.RelationshipSignal{}
	for _, s := range batch {
		key := s.Contact.String()
		byContact[key] = append(byContact[key], s)
	}
	for _, signals := range byContact {
		contact := signals[0].Contact
		if err := a.applyBatch(ctx, contact, signals); err != nil {
			slog.Error("relationship accumulator apply failed", "contact", contact.String(), "error", err)
		}
	}
}

func (a *Accumulator) applyBatch(ctx context.Context, contact domain.ContactID, signals []domain.RelationshipSignal) error {
	scores, err := a.mem.GetAccumulatedScores(ctx, contact)
	if err != nil {
		return err
	}
	if scores == nil {
		scores = &domain.AccumulatedScores{
			Contact:      contact,
			Scores:       map[domain.RelationshipType]float64{},
			SignalCounts: map[domain.RelationshipSignalKind]int{},
			LastDecay:    time.Now(),
		}
	}

	a.decay(scores, time.Now())

	for _, s := range signals {
		rel, ok := signalRelationshipHint[s.Kind]
		if !ok {
			continue
		}
		scores.Scores[rel] += s.Confidence
		scores.SignalCounts[s.Kind]++
	}

	if err := a.mem.SaveAccumulatedScores(ctx, *scores); err != nil {
		return err
	}

	return a.maybePromote(ctx, contact, scores)
}

// decay multiplies every accumulated score by decayPerDay^days, where
// days is the elapsed time since the last decay application.
func (a *Accumulator) decay(scores *domain.AccumulatedScores, now time.Time) {
	days := now.Sub(scores.LastDecay).Hours() / 24
	if days <= 0 {
		return
	}
	factor := math.Pow(a.decayPerDay, days)
	for rel, v := range scores.Scores {
		scores.Scores[rel] = v * factor
	}
	scores.LastDecay = now
}

func (a *Accumulator) maybePromote(ctx context.Context, contact domain.ContactID, scores *domain.AccumulatedScores) error {
	totalSignals := 0
	for _, c := range scores.SignalCounts {
		totalSignals += c
	}
	if totalSignals < a.minSignals {
		return nil
	}

	best := domain.RelationshipUnknown
	bestScore := 0.0
	for rel, score := range scores.Scores {
		if score > bestScore {
			best = rel
			bestScore = score
		}
	}
	if best == domain.RelationshipUnknown {
		return nil
	}

	approved, err := a.mem.GetApproved(ctx, contact)
	if err != nil {
		return err
	}
	if approved == nil {
		return nil
	}

	current := approved.Relationship
	if current == best {
		return nil
	}

	currentScore := scores.Scores[current]
	if bestScore-currentScore < a.minDelta {
		return nil
	}

	if isDowngradeToAcquaintance(current, best) {
		return nil
	}

	approved.Relationship = best
	return a.mem.UpsertApproved(ctx, *approved)
}

func isDowngradeToAcquaintance(current, proposed domain.RelationshipType) bool {
	if proposed != domain.RelationshipAcquaintance {
		return false
	}
	return current == domain.RelationshipFamily || current == domain.RelationshipFriend
}
