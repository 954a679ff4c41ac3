package domain

import "github.com/pkg/errors"

// ErrInvalidMessage is returned by ValidateMessage for malformed payloads.
var ErrInvalidMessage = errors.New("invalid normalized message")

// ValidateMessage checks a NormalizedMessage for the minimum shape the
// pipeline requires, upgrading legacy (version 1) payloads in place.
func ValidateMessage(msg *NormalizedMessage, fallbackChannel ChannelID) error {
	if msg.ID == "" {
		return errors.Wrap(ErrInvalidMessage, "missing id")
	}
	if msg.Version < 2 {
		*msg = FromLegacy(*msg, fallbackChannel)
	}
	if !msg.Channel.Valid() {
		return errors.Wrapf(ErrInvalidMessage, "unknown channel %q", msg.Channel)
	}
	if msg.Contact.ExternalID == "" {
		return errors.Wrap(ErrInvalidMessage, "missing contact external id")
	}
	return nil
}
