// Package whatsapp adapts go.mau.fi/whatsmeow to the channel.Adapter
// interface. Unlike Telegram's bot API, WhatsApp's multi-device
// protocol requires a persistent session store and a QR-code pairing
// step on first connect; both are handled by whatsmeow's own sqlstore.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"relay/pkg/channel"
	"relay/pkg/domain"
)

func init() {
	channel.Register(domain.ChannelWhatsApp, func(raw jsoniter.RawMessage) (channel.Adapter, error) {
		var cfg Config
		if err := jsoniter.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.Wrap(err, "parsing whatsapp config")
		}
		return New(cfg)
	})
}

// Config holds the whatsmeow session store location. Pairing happens
// out-of-band (operator scans a QR code once); after that the session
// persists in SessionDBPath across restarts.
type Config struct {
	SessionDBPath string `json:"sessionDbPath"`
}

// Adapter is the channel.Adapter for WhatsApp.
type Adapter struct {
	config Config
	client *whatsmeow.Client

	mu     sync.Mutex
	status channel.Status
}

func New(cfg Config) (*Adapter, error) {
	if cfg.SessionDBPath == "" {
		cfg.SessionDBPath = "data/whatsapp.db"
	}
	container, err := sqlstore.New(context.Background(), "sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", cfg.SessionDBPath), waLog.Noop)
	if err != nil {
		return nil, errors.Wrap(err, "opening whatsapp session store")
	}
	device, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "loading whatsapp device")
	}

	return &Adapter{
		config: cfg,
		client: whatsmeow.NewClient(device, waLog.Noop),
		status: channel.StatusDisconnected,
	}, nil
}

func (a *Adapter) ID() domain.ChannelID { return domain.ChannelWhatsApp }
func (a *Adapter) DisplayName() string  { return "WhatsApp" }
func (a *Adapter) Icon() string         { return "whatsapp" }

func (a *Adapter) IsConnected() bool {
	return a.Status() == channel.StatusConnected
}

// NormalizeContactID maps a raw WhatsApp phone number (no "@s.whatsapp.net"
// suffix expected) to the canonical ContactID this adapter's events carry.
func (a *Adapter) NormalizeContactID(raw string) domain.ContactID {
	return domain.ContactID{Channel: domain.ChannelWhatsApp, ExternalID: raw}
}

// GetContacts lists every contact whatsmeow has synced into the local
// session store.
func (a *Adapter) GetContacts(ctx context.Context) ([]channel.Contact, error) {
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing whatsapp contacts")
	}
	contacts := make([]channel.Contact, 0, len(all))
	for jid, info := range all {
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		contacts = append(contacts, channel.Contact{
			ID:          domain.ContactID{Channel: domain.ChannelWhatsApp, ExternalID: jid.User},
			DisplayName: name,
		})
	}
	return contacts, nil
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

// Connect registers the event handler and dials WhatsApp. If no
// session is stored yet, the operator must complete QR pairing
// out-of-band before messages will flow; Connect does not block on it.
func (a *Adapter) Connect(ctx context.Context, handler channel.InboundHandler) error {
	a.setStatus(channel.StatusConnecting)

	a.client.AddEventHandler(func(evt any) {
		switch e := evt.(type) {
		case *events.Message:
			a.handleMessage(ctx, e, handler)
		case *events.Disconnected:
			a.setStatus(channel.StatusDisconnected)
		case *events.Connected:
			a.setStatus(channel.StatusConnected)
		}
	})

	if a.client.Store.ID == nil {
		qrChan, _ := a.client.GetQRChannel(ctx)
		if err := a.client.Connect(); err != nil {
			a.setStatus(channel.StatusError)
			return errors.Wrap(err, "whatsapp connect")
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					fmt.Fprintln(os.Stderr, "whatsapp pairing QR:", evt.Code)
				}
			}
		}()
		return nil
	}

	if err := a.client.Connect(); err != nil {
		a.setStatus(channel.StatusError)
		return errors.Wrap(err, "whatsapp connect")
	}
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, evt *events.Message, handler channel.InboundHandler) {
	if evt.Info.IsGroup && evt.Info.Chat.Server != types.DefaultUserServer {
		// Still normalize group messages; the admission gate decides to drop them.
	}

	text := evt.Message.GetConversation()
	if text == "" && evt.Message.GetExtendedTextMessage() != nil {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}

	handler(ctx, domain.NormalizedMessage{
		Version: 2,
		ID:      evt.Info.ID,
		Channel: domain.ChannelWhatsApp,
		Contact: domain.ContactID{
			Channel:    domain.ChannelWhatsApp,
			ExternalID: evt.Info.Sender.User,
		},
		IsGroup:    evt.Info.IsGroup,
		FromMe:     evt.Info.IsFromMe,
		Text:       text,
		ReceivedAt: evt.Info.Timestamp,
	})
}

func (a *Adapter) Disconnect() error {
	a.client.Disconnect()
	a.setStatus(channel.StatusDisconnected)
	return nil
}

func (a *Adapter) jid(contact domain.ContactID) types.JID {
	return types.NewJID(contact.ExternalID, types.DefaultUserServer)
}

func (a *Adapter) SendMessage(ctx context.Context, contact domain.ContactID, text string) (string, error) {
	resp, err := a.client.SendMessage(ctx, a.jid(contact), &waProto.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", errors.Wrap(err, "whatsapp send")
	}
	return resp.ID, nil
}

func (a *Adapter) SendTypingIndicator(ctx context.Context, contact domain.ContactID) error {
	return a.client.SendChatPresence(ctx, a.jid(contact), types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

func (a *Adapter) GetContact(ctx context.Context, contact domain.ContactID) (string, bool) {
	info, err := a.client.Store.Contacts.GetContact(ctx, a.jid(contact))
	if err != nil || !info.Found {
		return "", false
	}
	name := info.FullName
	if name == "" {
		name = info.PushName
	}
	return name, name != ""
}
