// Package domain holds the shared data model: channels, messages,
// contacts, personas, and the relationship/style records the
// background accumulators maintain.
package domain

import "time"

// ChannelID identifies a chat transport. The set is closed; adapters
// register themselves against one of these values.
type ChannelID string

const (
	ChannelTelegram ChannelID = "telegram"
	ChannelWhatsApp ChannelID = "whatsapp"
	ChannelDiscord  ChannelID = "discord"
	ChannelSlack    ChannelID = "slack"
)

var validChannelIDs = map[ChannelID]struct{}{
	ChannelTelegram: {},
	ChannelWhatsApp: {},
	ChannelDiscord:  {},
	ChannelSlack:    {},
}

// Valid reports whether id is one of the known channel identifiers.
func (id ChannelID) Valid() bool {
	_, ok := validChannelIDs[id]
	return ok
}

// ContactID scopes a contact to the channel it was seen on, so the
// same external id on two transports never collides.
type ContactID struct {
	Channel    ChannelID `json:"channelId"`
	ExternalID string    `json:"externalId"`
}

func (c ContactID) String() string {
	return string(c.Channel) + ":" + c.ExternalID
}

// AttachmentKind enumerates the media types a NormalizedMessage can carry.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentVideo AttachmentKind = "video"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a single media item attached to a NormalizedMessage.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	URL      string         `json:"url,omitempty"`
	Data     []byte         `json:"-"`
	MimeType string         `json:"mimeType,omitempty"`
	FileName string         `json:"fileName,omitempty"`
}

// NormalizedMessage is the channel-agnostic envelope every adapter
// produces for every inbound message, schema version 2 per the wire
// contract. FromLegacy upgrades a version-1 payload (no ChannelID).
type NormalizedMessage struct {
	Version     int          `json:"version"`
	ID          string       `json:"id"`
	Channel     ChannelID    `json:"channelId"`
	Contact     ContactID    `json:"contact"`
	IsGroup     bool         `json:"isGroup"`
	FromMe      bool         `json:"fromMe"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time    `json:"receivedAt"`
}

// FromLegacy upgrades a pre-v2 payload (missing ChannelID) by
// defaulting it to the channel that produced it.
func FromLegacy(msg NormalizedMessage, fallback ChannelID) NormalizedMessage {
	if msg.Version == 0 {
		msg.Version = 1
	}
	if msg.Channel == "" {
		msg.Channel = fallback
	}
	if msg.Contact.Channel == "" {
		msg.Contact.Channel = msg.Channel
	}
	msg.Version = 2
	return msg
}

// PairingStatus tracks a PairingRequest's lifecycle.
type PairingStatus string

const (
	PairingPending  PairingStatus = "pending"
	PairingApproved PairingStatus = "approved"
	PairingDenied   PairingStatus = "denied"
)

// PairingRequest records a first-contact attempt awaiting operator review.
type PairingRequest struct {
	Contact   ContactID     `json:"contact"`
	Status    PairingStatus `json:"status"`
	FirstSeen time.Time     `json:"firstSeen"`
	LastSeen  time.Time     `json:"lastSeen"`
	Preview   string        `json:"preview"`
}

// RelationshipType classifies an approved contact for persona selection.
type RelationshipType string

const (
	RelationshipColleague       RelationshipType = "colleague"
	RelationshipClient          RelationshipType = "client"
	RelationshipManager         RelationshipType = "manager"
	RelationshipFriend          RelationshipType = "friend"
	RelationshipAcquaintance    RelationshipType = "acquaintance"
	RelationshipFamily          RelationshipType = "family"
	RelationshipRomanticPartner RelationshipType = "romantic_partner"
	RelationshipUnknown         RelationshipType = "unknown"
)

// ContactTier is the coarse trust level attached to an approved
// contact, independent of its relationship type.
type ContactTier string

const (
	TierTrusted    ContactTier = "trusted"
	TierStandard   ContactTier = "standard"
	TierRestricted ContactTier = "restricted"
)

// ApprovedContact is a contact explicitly or automatically allowed
// through the admission gate.
type ApprovedContact struct {
	Contact      ContactID        `json:"contact"`
	Relationship RelationshipType `json:"relationship"`
	DisplayName  string           `json:"displayName"`
	PhoneNumber  string           `json:"phoneNumber,omitempty"`
	Tier         ContactTier      `json:"tier"`
	PersonaID    string           `json:"personaId,omitempty"`
	ApprovedAt   time.Time        `json:"approvedAt"`
	ApprovedBy   string           `json:"approvedBy,omitempty"`
	AutoApproved bool             `json:"autoApproved"`
	Notes        string           `json:"notes,omitempty"`
}

// DeniedContact is a contact whose PairingRequest was rejected; the
// denial holds until ExpiresAt.
type DeniedContact struct {
	Contact   ContactID `json:"contact"`
	DeniedAt  time.Time `json:"deniedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PauseReason names why a contact (or everything) is paused.
type PauseReason string

const (
	PauseGlobal    PauseReason = "global"
	PauseContact   PauseReason = "contact"
	PauseFromMe    PauseReason = "fromMe"
	PauseRateLimit PauseReason = "rate_limit"
	PauseSleep     PauseReason = "sleep"
)

// PauseState is the current pause/resume status for a scope (global or
// a single contact).
type PauseState struct {
	Paused   bool        `json:"paused"`
	Reason   PauseReason `json:"reason,omitempty"`
	SetAt    time.Time   `json:"setAt"`
	SetBy    string      `json:"setBy,omitempty"`
	ExpireAt *time.Time  `json:"expireAt,omitempty"`
}

// MessageRole distinguishes the two sides of a ConversationMessage.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one stored turn in a contact's bounded history.
type ConversationMessage struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// Persona is the system-prompt fragment and descriptive traits used
// to address a given relationship type. ApplicableTo names the set of
// relationship types this persona may be selected for when no
// explicit PersonaID assignment applies.
type Persona struct {
	ID              string             `json:"id,omitempty"`
	Name            string             `json:"name,omitempty"`
	Relationship    RelationshipType   `json:"relationship"`
	SystemPrompt    string             `json:"systemPrompt"`
	Tone            string             `json:"tone"`
	ExampleMessages []string           `json:"exampleMessages,omitempty"`
	ApplicableTo    []RelationshipType `json:"applicableTo,omitempty"`
}

// StyleProfile is the accumulated writing-style fingerprint for a
// contact, used to shape outgoing responses.
type StyleProfile struct {
	Contact               ContactID `json:"contact"`
	AvgMessageLength      float64   `json:"avgMessageLength"`
	EmojiFrequency        float64   `json:"emojiFrequency"`
	Formality             float64   `json:"formality"` // 0 (casual) .. 1 (formal)
	UsesGreetings         bool      `json:"usesGreetings"`
	UsesSignoffs          bool      `json:"usesSignoffs"`
	GreetingStyle         []string  `json:"greetingStyle,omitempty"` // up to 5 sampled opening phrases
	SignOffStyle          []string  `json:"signOffStyle,omitempty"`  // up to 5 sampled closing phrases
	PreferredBullets      bool      `json:"preferredBullets"`
	UsesEllipsis          bool      `json:"usesEllipsis"`
	ExclamationFrequency  float64   `json:"exclamationFrequency"`
	MissingEndingPeriod   bool      `json:"missingEndingPeriod"`
	SampleCount           int       `json:"sampleCount"`
	PendingChangeCount    int       `json:"pendingChangeCount"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// GraphContext is the contact- and relationship-centric recall the
// context assembler pulls from MEM: the people, topics, and events
// known to be associated with a contact, formatted into the
// generator's system prompt as free text.
type GraphContext struct {
	Contact       ContactID `json:"contact"`
	RelatedPeople []string  `json:"relatedPeople,omitempty"`
	Topics        []string  `json:"topics,omitempty"`
	Events        []string  `json:"events,omitempty"`
}

// RelationshipSignalKind names the regex-detected signal categories.
type RelationshipSignalKind string

const (
	SignalFamilyTerm    RelationshipSignalKind = "family_term"
	SignalAffection     RelationshipSignalKind = "affection"
	SignalFormalAddress RelationshipSignalKind = "formal_address"
	SignalSharedHistory RelationshipSignalKind = "shared_history"
	SignalRomanticTerm  RelationshipSignalKind = "romantic_term"
	SignalManagerTerm   RelationshipSignalKind = "manager_term"
	SignalClientTerm    RelationshipSignalKind = "client_term"
	SignalColleagueTerm RelationshipSignalKind = "colleague_term"
)

// RelationshipSignal is one detected observation, weighted by the
// fixed Confidence of the pattern that matched, emitted by the
// classifier's side-channel regex extraction.
type RelationshipSignal struct {
	Contact    ContactID              `json:"contact"`
	Kind       RelationshipSignalKind `json:"kind"`
	Confidence float64                `json:"confidence"`
	DetectedAt time.Time              `json:"detectedAt"`
}

// AccumulatedScores is the per-contact running tally the
// relationship accumulator maintains between flushes.
type AccumulatedScores struct {
	Contact      ContactID                        `json:"contact"`
	Scores       map[RelationshipType]float64      `json:"scores"`
	SignalCounts map[RelationshipSignalKind]int     `json:"signalCounts"`
	LastDecay    time.Time                         `json:"lastDecay"`
}
