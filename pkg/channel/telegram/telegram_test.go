package telegram

import (
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"relay/pkg/domain"
)

func TestNormalizePrivateMessage(t *testing.T) {
	a := &Adapter{}
	now := time.Now().Unix()
	msg := &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 555},
		Chat:      &tgbotapi.Chat{Type: "private"},
		Date:      int(now),
		Text:      "hey there",
	}

	got := a.normalize(msg)
	require.Equal(t, domain.ChannelTelegram, got.Channel)
	require.Equal(t, "555", got.Contact.ExternalID)
	require.False(t, got.IsGroup)
	require.Equal(t, "hey there", got.Text)
	require.Equal(t, "42", got.ID)
}

func TestNormalizeGroupMessageIsFlagged(t *testing.T) {
	a := &Adapter{}
	for _, chatType := range []string{"group", "supergroup"} {
		msg := &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: 1},
			Chat:      &tgbotapi.Chat{Type: chatType},
			Date:      int(time.Now().Unix()),
			Text:      "hi everyone",
		}
		got := a.normalize(msg)
		require.True(t, got.IsGroup, "chat type %q should be flagged as a group", chatType)
	}
}

func TestNormalizeContactIDMatchesInboundContact(t *testing.T) {
	a := &Adapter{}
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 777},
		Chat:      &tgbotapi.Chat{Type: "private"},
		Date:      int(time.Now().Unix()),
		Text:      "hi",
	}
	got := a.normalize(msg)
	require.Equal(t, got.Contact, a.NormalizeContactID("777"))
}

func TestNormalizeFallsBackToCaption(t *testing.T) {
	a := &Adapter{}
	msg := &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: 1},
		Chat:      &tgbotapi.Chat{Type: "private"},
		Date:      int(time.Now().Unix()),
		Caption:   "a photo caption",
	}
	got := a.normalize(msg)
	require.Equal(t, "a photo caption", got.Text)
}
