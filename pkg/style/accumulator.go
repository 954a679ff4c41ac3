package style

import (
	"context"
	"sync"
	"time"

	"relay/pkg/domain"
	"relay/pkg/mem"
)

// Accumulator analyzes every outgoing message and flushes the
// updated profile to mem.Store once enough change has accumulated,
// so a single odd message never causes a profile rewrite. Profiles
// are held in memory between flushes, seeded from storage on first
// use per contact.
type Accumulator struct {
	store             mem.Store
	minPendingChanges int
	minSamples        int

	mu       sync.Mutex
	profiles map[string]*domain.StyleProfile
}

func NewAccumulator(store mem.Store, minPendingChanges, minSamples int) *Accumulator {
	return &Accumulator{
		store:             store,
		minPendingChanges: minPendingChanges,
		minSamples:        minSamples,
		profiles:          make(map[string]*domain.StyleProfile),
	}
}

// Observe folds an outgoing message into the contact's style profile
// and flushes to storage once PendingChangeCount and SampleCount both
// clear their thresholds.
func (a *Accumulator) Observe(ctx context.Context, contact domain.ContactID, text string) error {
	profile, err := a.profileFor(ctx, contact)
	if err != nil {
		return err
	}

	a.mu.Lock()
	ApplySample(profile, Analyze(text))
	shouldFlush := profile.PendingChangeCount >= a.minPendingChanges && profile.SampleCount >= a.minSamples
	var snapshot domain.StyleProfile
	if shouldFlush {
		profile.PendingChangeCount = 0
		profile.UpdatedAt = time.Now()
		snapshot = *profile
	}
	a.mu.Unlock()

	if shouldFlush {
		return a.store.UpsertStyleProfile(ctx, snapshot)
	}
	return nil
}

func (a *Accumulator) profileFor(ctx context.Context, contact domain.ContactID) (*domain.StyleProfile, error) {
	key := contact.String()

	a.mu.Lock()
	if p, ok := a.profiles[key]; ok {
		a.mu.Unlock()
		return p, nil
	}
	a.mu.Unlock()

	existing, err := a.store.GetStyleProfile(ctx, contact)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing = &domain.StyleProfile{Contact: contact}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.profiles[key]; ok {
		return p, nil
	}
	a.profiles[key] = existing
	return existing, nil
}
