// Package memtest provides an in-memory mem.Store fake for unit tests.
package memtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"relay/pkg/domain"
	"relay/pkg/mem"
)

type Fake struct {
	mu          sync.Mutex
	pairings    map[string]domain.PairingRequest
	approved    map[string]domain.ApprovedContact
	denied      map[string]domain.DeniedContact
	history     map[string]bool
	personas    map[string]domain.Persona
	contexts    map[string]domain.GraphContext
	styles      map[string]domain.StyleProfile
	scores      map[string]domain.AccumulatedScores
}

func New() *Fake {
	return &Fake{
		pairings: make(map[string]domain.PairingRequest),
		approved: make(map[string]domain.ApprovedContact),
		denied:   make(map[string]domain.DeniedContact),
		history:  make(map[string]bool),
		personas: make(map[string]domain.Persona),
		contexts: make(map[string]domain.GraphContext),
		styles:   make(map[string]domain.StyleProfile),
		scores:   make(map[string]domain.AccumulatedScores),
	}
}

var _ mem.Store = (*Fake)(nil)

func (f *Fake) GetPairing(_ context.Context, contact domain.ContactID) (*domain.PairingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pairings[contact.String()]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (f *Fake) UpsertPairing(_ context.Context, req domain.PairingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairings[req.Contact.String()] = req
	return nil
}

func (f *Fake) ResolvePairing(_ context.Context, contact domain.ContactID, approve bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pairings[contact.String()]
	if !ok {
		return nil
	}
	if approve {
		p.Status = domain.PairingApproved
	} else {
		p.Status = domain.PairingDenied
	}
	f.pairings[contact.String()] = p
	return nil
}

func (f *Fake) GetApproved(_ context.Context, contact domain.ContactID) (*domain.ApprovedContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.approved[contact.String()]
	if !ok {
		return nil, nil
	}
	cp := a
	return &cp, nil
}

func (f *Fake) UpsertApproved(_ context.Context, approved domain.ApprovedContact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved[approved.Contact.String()] = approved
	return nil
}

func (f *Fake) GetDenied(_ context.Context, contact domain.ContactID) (*domain.DeniedContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.denied[contact.String()]
	if !ok {
		return nil, nil
	}
	cp := d
	return &cp, nil
}

func (f *Fake) UpsertDenied(_ context.Context, denied domain.DeniedContact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[denied.Contact.String()] = denied
	return nil
}

func (f *Fake) HasPriorHistory(_ context.Context, contact domain.ContactID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[contact.String()], nil
}

// SetPriorHistory lets tests mark a contact as having exchanged
// messages before, to exercise the auto-approval-on-history path.
func (f *Fake) SetPriorHistory(contact domain.ContactID, has bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[contact.String()] = has
}

func (f *Fake) RecordMessageSeen(_ context.Context, contact domain.ContactID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[contact.String()] = true
	return nil
}

// GetPersona returns the first persona (by id, for deterministic test
// output) whose ApplicableTo contains relationship.
func (f *Fake) GetPersona(_ context.Context, relationship domain.RelationshipType) (*domain.Persona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.personas))
	for id := range f.personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := f.personas[id]
		for _, rel := range p.ApplicableTo {
			if rel == relationship {
				cp := p
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *Fake) GetPersonaByID(_ context.Context, id string) (*domain.Persona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personas[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (f *Fake) UpsertPersona(_ context.Context, persona domain.Persona) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := persona.ID
	if id == "" {
		id = string(persona.Relationship)
	}
	if len(persona.ApplicableTo) == 0 && persona.Relationship != "" {
		persona.ApplicableTo = []domain.RelationshipType{persona.Relationship}
	}
	f.personas[id] = persona
	return nil
}

func (f *Fake) GetContext(_ context.Context, contact domain.ContactID) (*domain.GraphContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contexts[contact.String()]
	if !ok {
		return nil, nil
	}
	cp := c
	return &cp, nil
}

func (f *Fake) UpsertContext(_ context.Context, graphCtx domain.GraphContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts[graphCtx.Contact.String()] = graphCtx
	return nil
}

func (f *Fake) GetStyleProfile(_ context.Context, contact domain.ContactID) (*domain.StyleProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.styles[contact.String()]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (f *Fake) UpsertStyleProfile(_ context.Context, profile domain.StyleProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.styles[profile.Contact.String()] = profile
	return nil
}

func (f *Fake) GetAccumulatedScores(_ context.Context, contact domain.ContactID) (*domain.AccumulatedScores, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[contact.String()]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (f *Fake) SaveAccumulatedScores(_ context.Context, scores domain.AccumulatedScores) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[scores.Contact.String()] = scores
	return nil
}

func (f *Fake) Close() {}
