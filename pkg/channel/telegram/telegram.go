// Package telegram adapts the Telegram Bot API to the channel.Adapter
// interface, long-polling for updates and translating them into
// domain.NormalizedMessage. Group chats are surfaced with IsGroup set
// so the admission gate can drop them per the no-group-chat rule.
package telegram

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"relay/pkg/channel"
	"relay/pkg/domain"
)

func init() {
	channel.Register(domain.ChannelTelegram, func(raw jsoniter.RawMessage) (channel.Adapter, error) {
		var cfg Config
		if err := jsoniter.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.Wrap(err, "parsing telegram config")
		}
		return New(cfg)
	})
}

// Config holds the credentials needed to authenticate with the
// Telegram Bot API.
type Config struct {
	Token string `json:"token"`
}

// Adapter is the production channel.Adapter for Telegram.
type Adapter struct {
	config Config
	bot    *tgbotapi.BotAPI

	mu     sync.Mutex
	status channel.Status

	stopCtx    context.Context
	stopCancel context.CancelFunc
}

func New(cfg Config) (*Adapter, error) {
	ctx, cancel := context.WithCancel(context.Background())

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	httpClient := &http.Client{
		Timeout: 70 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				merged, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-merged.Done():
					}
				}()
				return dialer.DialContext(merged, network, addr)
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "authorizing telegram bot")
	}

	return &Adapter{
		config:     cfg,
		bot:        bot,
		status:     channel.StatusDisconnected,
		stopCtx:    ctx,
		stopCancel: cancel,
	}, nil
}

func (a *Adapter) ID() domain.ChannelID { return domain.ChannelTelegram }
func (a *Adapter) DisplayName() string  { return "Telegram" }
func (a *Adapter) Icon() string         { return "telegram" }

func (a *Adapter) IsConnected() bool {
	return a.Status() == channel.StatusConnected
}

// NormalizeContactID maps a raw Telegram user id string to the
// canonical ContactID this adapter's own events already carry.
func (a *Adapter) NormalizeContactID(raw string) domain.ContactID {
	return domain.ContactID{Channel: domain.ChannelTelegram, ExternalID: raw}
}

// GetContacts is not exposed by the Bot API (Telegram gives bots no
// address-book listing, only per-chat lookups), so it always returns
// an empty list rather than an error.
func (a *Adapter) GetContacts(context.Context) ([]channel.Contact, error) {
	return nil, nil
}

func (a *Adapter) setStatus(s channel.Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *Adapter) Status() channel.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Connect starts the long-polling loop in the background. The loop's
// HTTP requests are tied to a.stopCtx so Disconnect aborts an
// in-flight long-poll instead of leaving it to time out and race the
// next GetUpdates call into a 409 Conflict.
func (a *Adapter) Connect(ctx context.Context, handler channel.InboundHandler) error {
	a.setStatus(channel.StatusConnecting)

	go func() {
		offset := 0
		a.setStatus(channel.StatusConnected)

		for {
			select {
			case <-a.stopCtx.Done():
				return
			default:
			}

			req := tgbotapi.NewUpdate(offset)
			req.Timeout = 60

			updates, err := a.bot.GetUpdates(req)
			if err != nil {
				select {
				case <-a.stopCtx.Done():
					return
				default:
					a.setStatus(channel.StatusError)
					time.Sleep(3 * time.Second)
					a.setStatus(channel.StatusConnected)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID < offset {
					continue
				}
				offset = update.UpdateID + 1

				if update.Message == nil {
					continue
				}
				handler(ctx, a.normalize(update.Message))
			}
		}
	}()

	return nil
}

func (a *Adapter) normalize(msg *tgbotapi.Message) domain.NormalizedMessage {
	contact := domain.ContactID{
		Channel:    domain.ChannelTelegram,
		ExternalID: strconv.FormatInt(msg.From.ID, 10),
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	return domain.NormalizedMessage{
		Version:    2,
		ID:         strconv.Itoa(msg.MessageID),
		Channel:    domain.ChannelTelegram,
		Contact:    contact,
		IsGroup:    msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
		FromMe:     false,
		Text:       text,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}
}

func (a *Adapter) Disconnect() error {
	a.stopCancel()
	if httpClient, ok := a.bot.Client.(*http.Client); ok {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	a.setStatus(channel.StatusDisconnected)
	return nil
}

func (a *Adapter) SendMessage(_ context.Context, contact domain.ContactID, text string) (string, error) {
	chatID, err := strconv.ParseInt(contact.ExternalID, 10, 64)
	if err != nil {
		return "", errors.Wrapf(err, "invalid telegram chat id %q", contact.ExternalID)
	}
	sent, err := a.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return "", errors.Wrap(err, "telegram send")
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (a *Adapter) SendTypingIndicator(_ context.Context, contact domain.ContactID) error {
	chatID, err := strconv.ParseInt(contact.ExternalID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid telegram chat id %q", contact.ExternalID)
	}
	_, err = a.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (a *Adapter) GetContact(_ context.Context, contact domain.ContactID) (string, bool) {
	chatID, err := strconv.ParseInt(contact.ExternalID, 10, 64)
	if err != nil {
		return "", false
	}
	chat, err := a.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", false
	}
	name := chat.UserName
	if name == "" {
		name = fmt.Sprintf("%s %s", chat.FirstName, chat.LastName)
	}
	return name, name != ""
}
