package mem

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"relay/pkg/domain"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// PostgresStore is the production Store, backed by a single shared
// pgxpool.Pool. Unlike the per-external-user dedicated-role pool the
// teacher's multi-tenant hotel agent uses, a personal gateway serving
// one operator has no tenant boundary to enforce at the connection
// level, so one pool is sufficient.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies reachability, and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "pinging postgres")
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pairing_requests (
    channel     TEXT NOT NULL,
    external_id TEXT NOT NULL,
    status      TEXT NOT NULL,
    first_seen  TIMESTAMPTZ NOT NULL,
    last_seen   TIMESTAMPTZ NOT NULL,
    preview     TEXT,
    PRIMARY KEY (channel, external_id)
);
CREATE TABLE IF NOT EXISTS approved_contacts (
    channel      TEXT NOT NULL,
    external_id  TEXT NOT NULL,
    relationship TEXT NOT NULL,
    display_name TEXT,
    phone_number TEXT,
    tier         TEXT NOT NULL DEFAULT 'standard',
    persona_id   TEXT,
    approved_at  TIMESTAMPTZ NOT NULL,
    approved_by  TEXT,
    auto_approved BOOLEAN NOT NULL,
    notes        TEXT,
    PRIMARY KEY (channel, external_id)
);
CREATE TABLE IF NOT EXISTS denied_contacts (
    channel     TEXT NOT NULL,
    external_id TEXT NOT NULL,
    denied_at   TIMESTAMPTZ NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (channel, external_id)
);
CREATE TABLE IF NOT EXISTS message_log (
    channel     TEXT NOT NULL,
    external_id TEXT NOT NULL,
    seen_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS message_log_contact_idx ON message_log (channel, external_id);
CREATE TABLE IF NOT EXISTS personas (
    id               TEXT PRIMARY KEY,
    name             TEXT,
    relationship     TEXT,
    system_prompt    TEXT NOT NULL,
    tone             TEXT,
    example_messages JSONB,
    applicable_to    TEXT[] NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS style_profiles (
    channel              TEXT NOT NULL,
    external_id          TEXT NOT NULL,
    avg_message_length   DOUBLE PRECISION NOT NULL,
    emoji_frequency      DOUBLE PRECISION NOT NULL,
    formality            DOUBLE PRECISION NOT NULL,
    uses_greetings       BOOLEAN NOT NULL,
    uses_signoffs        BOOLEAN NOT NULL,
    greeting_style       JSONB,
    signoff_style        JSONB,
    preferred_bullets    BOOLEAN NOT NULL,
    uses_ellipsis        BOOLEAN NOT NULL DEFAULT FALSE,
    exclamation_frequency DOUBLE PRECISION NOT NULL DEFAULT 0,
    missing_ending_period BOOLEAN NOT NULL DEFAULT FALSE,
    sample_count         INTEGER NOT NULL,
    pending_change_count  INTEGER NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (channel, external_id)
);
CREATE TABLE IF NOT EXISTS graph_context (
    channel        TEXT NOT NULL,
    external_id    TEXT NOT NULL,
    related_people JSONB,
    topics         JSONB,
    events         JSONB,
    PRIMARY KEY (channel, external_id)
);
CREATE TABLE IF NOT EXISTS accumulated_scores (
    channel       TEXT NOT NULL,
    external_id   TEXT NOT NULL,
    scores        JSONB NOT NULL,
    signal_counts JSONB NOT NULL,
    last_decay    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (channel, external_id)
);
CREATE TABLE IF NOT EXISTS gateway_events (
    event_id     UUID PRIMARY KEY,
    kind         TEXT NOT NULL,
    contact      TEXT,
    payload      JSONB,
    created_at   TIMESTAMPTZ NOT NULL,
    processed_at TIMESTAMPTZ
);
`)
	return errors.Wrap(err, "ensuring schema")
}

func (s *PostgresStore) GetPairing(ctx context.Context, contact domain.ContactID) (*domain.PairingRequest, error) {
	var req domain.PairingRequest
	req.Contact = contact
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status, first_seen, last_seen, preview FROM pairing_requests WHERE channel=$1 AND external_id=$2`,
		contact.Channel, contact.ExternalID,
	).Scan(&status, &req.FirstSeen, &req.LastSeen, &req.Preview)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting pairing request")
	}
	req.Status = domain.PairingStatus(status)
	return &req, nil
}

func (s *PostgresStore) UpsertPairing(ctx context.Context, req domain.PairingRequest) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO pairing_requests (channel, external_id, status, first_seen, last_seen, preview)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (channel, external_id) DO UPDATE SET
  status=EXCLUDED.status, last_seen=EXCLUDED.last_seen, preview=EXCLUDED.preview`,
		req.Contact.Channel, req.Contact.ExternalID, string(req.Status), req.FirstSeen, req.LastSeen, req.Preview,
	)
	return errors.Wrap(err, "upserting pairing request")
}

func (s *PostgresStore) ResolvePairing(ctx context.Context, contact domain.ContactID, approve bool) error {
	status := domain.PairingDenied
	if approve {
		status = domain.PairingApproved
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE pairing_requests SET status=$3 WHERE channel=$1 AND external_id=$2`,
		contact.Channel, contact.ExternalID, string(status),
	)
	return errors.Wrap(err, "resolving pairing request")
}

func (s *PostgresStore) GetApproved(ctx context.Context, contact domain.ContactID) (*domain.ApprovedContact, error) {
	var a domain.ApprovedContact
	a.Contact = contact
	var rel, tier string
	err := s.pool.QueryRow(ctx, `
SELECT relationship, display_name, COALESCE(phone_number,''), tier, COALESCE(persona_id,''),
       approved_at, COALESCE(approved_by,''), auto_approved, COALESCE(notes,'')
FROM approved_contacts WHERE channel=$1 AND external_id=$2`,
		contact.Channel, contact.ExternalID,
	).Scan(&rel, &a.DisplayName, &a.PhoneNumber, &tier, &a.PersonaID, &a.ApprovedAt, &a.ApprovedBy, &a.AutoApproved, &a.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting approved contact")
	}
	a.Relationship = domain.RelationshipType(rel)
	a.Tier = domain.ContactTier(tier)
	return &a, nil
}

func (s *PostgresStore) UpsertApproved(ctx context.Context, approved domain.ApprovedContact) error {
	tier := approved.Tier
	if tier == "" {
		tier = domain.TierStandard
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO approved_contacts (channel, external_id, relationship, display_name, phone_number, tier, persona_id, approved_at, approved_by, auto_approved, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (channel, external_id) DO UPDATE SET
  relationship=EXCLUDED.relationship, display_name=EXCLUDED.display_name,
  phone_number=EXCLUDED.phone_number, tier=EXCLUDED.tier, persona_id=EXCLUDED.persona_id,
  approved_at=EXCLUDED.approved_at, approved_by=EXCLUDED.approved_by,
  auto_approved=EXCLUDED.auto_approved, notes=EXCLUDED.notes`,
		approved.Contact.Channel, approved.Contact.ExternalID, string(approved.Relationship),
		approved.DisplayName, approved.PhoneNumber, string(tier), approved.PersonaID,
		approved.ApprovedAt, approved.ApprovedBy, approved.AutoApproved, approved.Notes,
	)
	return errors.Wrap(err, "upserting approved contact")
}

func (s *PostgresStore) GetDenied(ctx context.Context, contact domain.ContactID) (*domain.DeniedContact, error) {
	var d domain.DeniedContact
	d.Contact = contact
	err := s.pool.QueryRow(ctx,
		`SELECT denied_at, expires_at FROM denied_contacts WHERE channel=$1 AND external_id=$2`,
		contact.Channel, contact.ExternalID,
	).Scan(&d.DeniedAt, &d.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting denied contact")
	}
	return &d, nil
}

func (s *PostgresStore) UpsertDenied(ctx context.Context, denied domain.DeniedContact) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO denied_contacts (channel, external_id, denied_at, expires_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (channel, external_id) DO UPDATE SET denied_at=EXCLUDED.denied_at, expires_at=EXCLUDED.expires_at`,
		denied.Contact.Channel, denied.Contact.ExternalID, denied.DeniedAt, denied.ExpiresAt,
	)
	return errors.Wrap(err, "upserting denied contact")
}

func (s *PostgresStore) HasPriorHistory(ctx context.Context, contact domain.ContactID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM message_log WHERE channel=$1 AND external_id=$2)`,
		contact.Channel, contact.ExternalID,
	).Scan(&exists)
	return exists, errors.Wrap(err, "checking prior history")
}

func (s *PostgresStore) RecordMessageSeen(ctx context.Context, contact domain.ContactID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_log (channel, external_id, seen_at) VALUES ($1,$2,$3)`,
		contact.Channel, contact.ExternalID, at,
	)
	return errors.Wrap(err, "recording message seen")
}

func (s *PostgresStore) scanPersona(row pgx.Row) (*domain.Persona, error) {
	var p domain.Persona
	var rel string
	var exampleMessages []byte
	var applicableTo []string
	err := row.Scan(&p.ID, &p.Name, &rel, &p.SystemPrompt, &p.Tone, &exampleMessages, &applicableTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning persona")
	}
	p.Relationship = domain.RelationshipType(rel)
	for _, r := range applicableTo {
		p.ApplicableTo = append(p.ApplicableTo, domain.RelationshipType(r))
	}
	if len(exampleMessages) > 0 {
		if err := jsonAPI.Unmarshal(exampleMessages, &p.ExampleMessages); err != nil {
			return nil, errors.Wrap(err, "decoding persona example messages")
		}
	}
	return &p, nil
}

// GetPersona returns the first persona (by id, for determinism) whose
// applicable_to set contains relationship, the set-membership match
// used when a contact has no explicit persona assignment.
func (s *PostgresStore) GetPersona(ctx context.Context, relationship domain.RelationshipType) (*domain.Persona, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, COALESCE(relationship,''), system_prompt, tone, example_messages, applicable_to
FROM personas WHERE $1 = ANY(applicable_to) ORDER BY id LIMIT 1`, string(relationship))
	return s.scanPersona(row)
}

func (s *PostgresStore) GetPersonaByID(ctx context.Context, id string) (*domain.Persona, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, COALESCE(relationship,''), system_prompt, tone, example_messages, applicable_to
FROM personas WHERE id=$1`, id)
	return s.scanPersona(row)
}

func (s *PostgresStore) UpsertPersona(ctx context.Context, persona domain.Persona) error {
	id := persona.ID
	if id == "" {
		id = string(persona.Relationship)
	}
	applicableTo := persona.ApplicableTo
	if len(applicableTo) == 0 && persona.Relationship != "" {
		applicableTo = []domain.RelationshipType{persona.Relationship}
	}
	exampleMessages, err := jsonAPI.Marshal(persona.ExampleMessages)
	if err != nil {
		return errors.Wrap(err, "encoding persona example messages")
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO personas (id, name, relationship, system_prompt, tone, example_messages, applicable_to)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  name=EXCLUDED.name, relationship=EXCLUDED.relationship, system_prompt=EXCLUDED.system_prompt,
  tone=EXCLUDED.tone, example_messages=EXCLUDED.example_messages, applicable_to=EXCLUDED.applicable_to`,
		id, persona.Name, string(persona.Relationship), persona.SystemPrompt, persona.Tone,
		exampleMessages, relationshipsToStrings(applicableTo),
	)
	return errors.Wrap(err, "upserting persona")
}

func relationshipsToStrings(rels []domain.RelationshipType) []string {
	out := make([]string, len(rels))
	for i, r := range rels {
		out[i] = string(r)
	}
	return out
}

func (s *PostgresStore) GetContext(ctx context.Context, contact domain.ContactID) (*domain.GraphContext, error) {
	var g domain.GraphContext
	g.Contact = contact
	var related, topics, events []byte
	err := s.pool.QueryRow(ctx,
		`SELECT related_people, topics, events FROM graph_context WHERE channel=$1 AND external_id=$2`,
		contact.Channel, contact.ExternalID,
	).Scan(&related, &topics, &events)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting graph context")
	}
	if len(related) > 0 {
		if err := jsonAPI.Unmarshal(related, &g.RelatedPeople); err != nil {
			return nil, errors.Wrap(err, "decoding related people")
		}
	}
	if len(topics) > 0 {
		if err := jsonAPI.Unmarshal(topics, &g.Topics); err != nil {
			return nil, errors.Wrap(err, "decoding topics")
		}
	}
	if len(events) > 0 {
		if err := jsonAPI.Unmarshal(events, &g.Events); err != nil {
			return nil, errors.Wrap(err, "decoding events")
		}
	}
	return &g, nil
}

func (s *PostgresStore) UpsertContext(ctx context.Context, graphCtx domain.GraphContext) error {
	related, err := jsonAPI.Marshal(graphCtx.RelatedPeople)
	if err != nil {
		return errors.Wrap(err, "encoding related people")
	}
	topics, err := jsonAPI.Marshal(graphCtx.Topics)
	if err != nil {
		return errors.Wrap(err, "encoding topics")
	}
	events, err := jsonAPI.Marshal(graphCtx.Events)
	if err != nil {
		return errors.Wrap(err, "encoding events")
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO graph_context (channel, external_id, related_people, topics, events)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (channel, external_id) DO UPDATE SET
  related_people=EXCLUDED.related_people, topics=EXCLUDED.topics, events=EXCLUDED.events`,
		graphCtx.Contact.Channel, graphCtx.Contact.ExternalID, related, topics, events,
	)
	return errors.Wrap(err, "upserting graph context")
}

func (s *PostgresStore) GetStyleProfile(ctx context.Context, contact domain.ContactID) (*domain.StyleProfile, error) {
	var p domain.StyleProfile
	p.Contact = contact
	var greeting, signoff []byte
	err := s.pool.QueryRow(ctx, `
SELECT avg_message_length, emoji_frequency, formality, uses_greetings, uses_signoffs,
       greeting_style, signoff_style, preferred_bullets, uses_ellipsis, exclamation_frequency,
       missing_ending_period, sample_count, pending_change_count, updated_at
FROM style_profiles WHERE channel=$1 AND external_id=$2`,
		contact.Channel, contact.ExternalID,
	).Scan(&p.AvgMessageLength, &p.EmojiFrequency, &p.Formality, &p.UsesGreetings,
		&p.UsesSignoffs, &greeting, &signoff, &p.PreferredBullets, &p.UsesEllipsis,
		&p.ExclamationFrequency, &p.MissingEndingPeriod, &p.SampleCount, &p.PendingChangeCount, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting style profile")
	}
	if len(greeting) > 0 {
		if err := jsonAPI.Unmarshal(greeting, &p.GreetingStyle); err != nil {
			return nil, errors.Wrap(err, "decoding greeting style")
		}
	}
	if len(signoff) > 0 {
		if err := jsonAPI.Unmarshal(signoff, &p.SignOffStyle); err != nil {
			return nil, errors.Wrap(err, "decoding signoff style")
		}
	}
	return &p, nil
}

func (s *PostgresStore) UpsertStyleProfile(ctx context.Context, p domain.StyleProfile) error {
	greeting, err := jsonAPI.Marshal(p.GreetingStyle)
	if err != nil {
		return errors.Wrap(err, "encoding greeting style")
	}
	signoff, err := jsonAPI.Marshal(p.SignOffStyle)
	if err != nil {
		return errors.Wrap(err, "encoding signoff style")
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO style_profiles (channel, external_id, avg_message_length, emoji_frequency, formality,
  uses_greetings, uses_signoffs, greeting_style, signoff_style, preferred_bullets, uses_ellipsis,
  exclamation_frequency, missing_ending_period, sample_count, pending_change_count, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (channel, external_id) DO UPDATE SET
  avg_message_length=EXCLUDED.avg_message_length, emoji_frequency=EXCLUDED.emoji_frequency,
  formality=EXCLUDED.formality, uses_greetings=EXCLUDED.uses_greetings,
  uses_signoffs=EXCLUDED.uses_signoffs, greeting_style=EXCLUDED.greeting_style,
  signoff_style=EXCLUDED.signoff_style, preferred_bullets=EXCLUDED.preferred_bullets,
  uses_ellipsis=EXCLUDED.uses_ellipsis, exclamation_frequency=EXCLUDED.exclamation_frequency,
  missing_ending_period=EXCLUDED.missing_ending_period,
  sample_count=EXCLUDED.sample_count, pending_change_count=EXCLUDED.pending_change_count,
  updated_at=EXCLUDED.updated_at`,
		p.Contact.Channel, p.Contact.ExternalID, p.AvgMessageLength, p.EmojiFrequency, p.Formality,
		p.UsesGreetings, p.UsesSignoffs, greeting, signoff, p.PreferredBullets, p.UsesEllipsis,
		p.ExclamationFrequency, p.MissingEndingPeriod, p.SampleCount, p.PendingChangeCount, p.UpdatedAt,
	)
	return errors.Wrap(err, "upserting style profile")
}

func (s *PostgresStore) GetAccumulatedScores(ctx context.Context, contact domain.ContactID) (*domain.AccumulatedScores, error) {
	var raw, rawCounts []byte
	scores := domain.AccumulatedScores{Contact: contact}
	err := s.pool.QueryRow(ctx,
		`SELECT scores, signal_counts, last_decay FROM accumulated_scores WHERE channel=$1 AND external_id=$2`,
		contact.Channel, contact.ExternalID,
	).Scan(&raw, &rawCounts, &scores.LastDecay)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting accumulated scores")
	}
	if err := jsonAPI.Unmarshal(raw, &scores.Scores); err != nil {
		return nil, errors.Wrap(err, "decoding scores")
	}
	if err := jsonAPI.Unmarshal(rawCounts, &scores.SignalCounts); err != nil {
		return nil, errors.Wrap(err, "decoding signal counts")
	}
	return &scores, nil
}

func (s *PostgresStore) SaveAccumulatedScores(ctx context.Context, scores domain.AccumulatedScores) error {
	raw, err := jsonAPI.Marshal(scores.Scores)
	if err != nil {
		return errors.Wrap(err, "encoding scores")
	}
	rawCounts, err := jsonAPI.Marshal(scores.SignalCounts)
	if err != nil {
		return errors.Wrap(err, "encoding signal counts")
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO accumulated_scores (channel, external_id, scores, signal_counts, last_decay)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (channel, external_id) DO UPDATE SET
  scores=EXCLUDED.scores, signal_counts=EXCLUDED.signal_counts, last_decay=EXCLUDED.last_decay`,
		scores.Contact.Channel, scores.Contact.ExternalID, raw, rawCounts, scores.LastDecay,
	)
	return errors.Wrap(err, "saving accumulated scores")
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
