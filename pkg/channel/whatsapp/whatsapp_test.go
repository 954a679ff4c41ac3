package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"

	"relay/pkg/domain"
)

func TestJIDUsesDefaultUserServer(t *testing.T) {
	a := &Adapter{}
	contact := domain.ContactID{Channel: domain.ChannelWhatsApp, ExternalID: "15551234567"}

	jid := a.jid(contact)
	require.Equal(t, "15551234567", jid.User)
	require.Equal(t, types.DefaultUserServer, jid.Server)
}

func TestZeroValueConfigHasNoSessionPath(t *testing.T) {
	cfg := Config{}
	require.Empty(t, cfg.SessionDBPath, "zero-value config should not silently assume a path before New fills it in")
}
