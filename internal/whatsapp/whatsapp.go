// Package whatsapp wraps the whatsmeow client for CitaBot.
//
// It sends texts, images, reactions and typing presence, marks messages read,
// downloads voice notes, rejects calls and turns whatsmeow events into
// models.InboundEvent values.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/store"
)

const (
	// DefaultSQLitePath is the default path for the whatsmeow device database.
	DefaultSQLitePath = "/var/lib/citabot/whatsmeow.db"
	// mediaCacheSize bounds how many downloadable voice notes are remembered.
	mediaCacheSize = 256
)

var (
	// ErrNotConnected is returned when the underlying client is missing.
	ErrNotConnected = errors.New("whatsapp client not connected")
	// ErrMediaNotFound is returned when a message ref has no cached media.
	ErrMediaNotFound = errors.New("whatsapp media not found for message")
)

// Sender is the transport surface used by the messaging service. Client and
// MockClient implement it.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendImage(ctx context.Context, to string, image []byte, caption string) error
	SendReaction(ctx context.Context, ref models.MessageRef, emoji string) error
	SendPresence(ctx context.Context, to string, p models.Presence) error
	MarkRead(ctx context.Context, ref models.MessageRef) error
	DownloadMedia(ctx context.Context, ref models.MessageRef) ([]byte, error)
	RejectCall(ctx context.Context, caller, callID string) error
	AddInboundHandler(fn func(models.InboundEvent))
}

// Opts holds the whatsmeow database and login settings.
type Opts struct {
	DBDSN       string // whatsmeow device store connection string
	QRPath      string // path to write the login QR code
	NumericCode bool   // print the raw pairing code instead of a QR
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the login code as text instead of a QR.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client wraps the whatsmeow client.
type Client struct {
	wa *whatsmeow.Client

	mu         sync.Mutex
	chats      map[string]types.JID // user digits -> chat the user last wrote from
	media      map[string]whatsmeow.DownloadableMessage
	mediaOrder []string
}

var _ Sender = (*Client)(nil)

// NewClient opens the device store, logs in when needed and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("whatsapp NewClient using default SQLite path", "path", dbDSN)
	}
	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("whatsapp NewClient SQLite DSN without foreign keys; whatsmeow expects them",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize whatsapp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from whatsapp store: %w", err)
	}

	wa := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if wa.Store.ID == nil {
		if err := login(ctx, wa, cfg); err != nil {
			return nil, err
		}
	} else if err := wa.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to whatsapp: %w", err)
	}
	slog.Info("whatsapp NewClient connected")
	return newClient(wa), nil
}

func newClient(wa *whatsmeow.Client) *Client {
	return &Client{
		wa:    wa,
		chats: make(map[string]types.JID),
		media: make(map[string]whatsmeow.DownloadableMessage),
	}
}

func login(ctx context.Context, wa *whatsmeow.Client, cfg Opts) error {
	slog.Info("whatsapp login required; starting QR flow")
	qrChan, _ := wa.GetQRChannel(ctx)
	if err := wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect to whatsapp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("whatsapp login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// chatFor resolves a user id or JID string to the chat to write to.
func (c *Client) chatFor(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("failed to parse jid %q: %w", to, err)
		}
		return jid, nil
	}
	c.mu.Lock()
	jid, ok := c.chats[to]
	c.mu.Unlock()
	if ok {
		return jid, nil
	}
	return types.NewJID(to, types.DefaultUserServer), nil
}

func (c *Client) send(ctx context.Context, to string, msg *waE2E.Message) error {
	if c.wa == nil {
		return ErrNotConnected
	}
	jid, err := c.chatFor(to)
	if err != nil {
		return err
	}
	if _, err := c.wa.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if body == "" {
		return errors.New("message body cannot be empty")
	}
	slog.Debug("whatsapp Client SendText", "to", to, "body_length", len(body))
	return c.send(ctx, to, &waE2E.Message{Conversation: proto.String(body)})
}

// SendImage uploads image and sends it with caption.
func (c *Client) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	if c.wa == nil {
		return ErrNotConnected
	}
	up, err := c.wa.Upload(ctx, image, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(http.DetectContentType(image)),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}
	slog.Debug("whatsapp Client SendImage", "to", to, "bytes", len(image))
	return c.send(ctx, to, msg)
}

func refJIDs(ref models.MessageRef) (chat, sender types.JID, err error) {
	chat, err = types.ParseJID(ref.ChatID)
	if err != nil {
		return chat, sender, fmt.Errorf("failed to parse chat jid: %w", err)
	}
	sender, err = types.ParseJID(ref.SenderID)
	if err != nil {
		return chat, sender, fmt.Errorf("failed to parse sender jid: %w", err)
	}
	return chat, sender, nil
}

// SendReaction reacts to the referenced message.
func (c *Client) SendReaction(ctx context.Context, ref models.MessageRef, emoji string) error {
	if c.wa == nil {
		return ErrNotConnected
	}
	chat, sender, err := refJIDs(ref)
	if err != nil {
		return err
	}
	return c.send(ctx, chat.String(), c.wa.BuildReaction(chat, sender, types.MessageID(ref.ID), emoji))
}

// SendPresence shows or clears the typing indicator in the user's chat.
func (c *Client) SendPresence(ctx context.Context, to string, p models.Presence) error {
	if c.wa == nil {
		return ErrNotConnected
	}
	jid, err := c.chatFor(to)
	if err != nil {
		return err
	}
	state := types.ChatPresenceComposing
	if p == models.PresencePaused {
		state = types.ChatPresencePaused
	}
	if err := c.wa.SendChatPresence(jid, state, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("failed to send presence: %w", err)
	}
	return nil
}

// MarkRead sends a read receipt for the referenced message.
func (c *Client) MarkRead(ctx context.Context, ref models.MessageRef) error {
	if c.wa == nil {
		return ErrNotConnected
	}
	chat, sender, err := refJIDs(ref)
	if err != nil {
		return err
	}
	if err := c.wa.MarkRead([]types.MessageID{types.MessageID(ref.ID)}, ref.Timestamp, chat, sender); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

// DownloadMedia returns the decrypted media of a recently received message.
func (c *Client) DownloadMedia(ctx context.Context, ref models.MessageRef) ([]byte, error) {
	if c.wa == nil {
		return nil, ErrNotConnected
	}
	c.mu.Lock()
	msg, ok := c.media[ref.ID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrMediaNotFound
	}
	data, err := c.wa.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return data, nil
}

// RejectCall declines an incoming call. caller is the JID string carried by models.CallEvent.
func (c *Client) RejectCall(ctx context.Context, caller, callID string) error {
	if c.wa == nil {
		return ErrNotConnected
	}
	jid, err := types.ParseJID(caller)
	if err != nil {
		return fmt.Errorf("failed to parse caller jid: %w", err)
	}
	if err := c.wa.RejectCall(jid, callID); err != nil {
		return fmt.Errorf("failed to reject call: %w", err)
	}
	return nil
}

// AddInboundHandler registers fn for every supported inbound event.
func (c *Client) AddInboundHandler(fn func(models.InboundEvent)) {
	if c.wa == nil {
		slog.Error("whatsapp Client AddInboundHandler without client")
		return
	}
	c.wa.AddEventHandler(func(evt any) {
		switch v := evt.(type) {
		case *events.Message:
			ev, ok := ConvertMessage(v)
			if !ok {
				return
			}
			c.remember(v)
			fn(ev)
		case *events.CallOffer:
			fn(ConvertCallOffer(v))
		case *events.Disconnected:
			slog.Warn("whatsapp Client disconnected")
		case *events.Connected:
			slog.Info("whatsapp Client connected")
		}
	})
}

// remember stores the reply chat and any downloadable audio for v.
func (c *Client) remember(v *events.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[v.Info.Sender.User] = v.Info.Chat
	if audio := v.Message.GetAudioMessage(); audio != nil {
		id := string(v.Info.ID)
		c.media[id] = audio
		c.mediaOrder = append(c.mediaOrder, id)
		if len(c.mediaOrder) > mediaCacheSize {
			delete(c.media, c.mediaOrder[0])
			c.mediaOrder = c.mediaOrder[1:]
		}
	}
}

// IsConnected reports whether the websocket is up.
func (c *Client) IsConnected() bool {
	return c.wa != nil && c.wa.IsConnected()
}

// Disconnect closes the websocket.
func (c *Client) Disconnect() {
	if c.wa != nil {
		c.wa.Disconnect()
	}
}

// ConvertMessage maps a whatsmeow message to an inbound event. Own messages,
// group and status chats, and unsupported message kinds are dropped.
func ConvertMessage(v *events.Message) (models.InboundEvent, bool) {
	if v == nil || v.Message == nil || v.Info.IsFromMe || v.Info.IsGroup || v.Info.Chat == types.StatusBroadcastJID {
		return nil, false
	}
	from := v.Info.Sender.User
	ref := models.MessageRef{
		ID:        string(v.Info.ID),
		ChatID:    v.Info.Chat.String(),
		SenderID:  v.Info.Sender.String(),
		Timestamp: v.Info.Timestamp,
	}
	m := v.Message
	switch {
	case m.GetConversation() != "":
		return models.TextMessage{From: from, Body: m.GetConversation(), Ref: ref}, true
	case m.GetExtendedTextMessage().GetText() != "":
		return models.TextMessage{From: from, Body: m.GetExtendedTextMessage().GetText(), Ref: ref}, true
	case m.GetAudioMessage() != nil:
		a := m.GetAudioMessage()
		return models.VoiceNote{From: from, Ref: ref, Mimetype: a.GetMimetype(), Seconds: a.GetSeconds()}, true
	case m.GetLocationMessage() != nil:
		l := m.GetLocationMessage()
		return models.LocationShare{From: from, Latitude: l.GetDegreesLatitude(), Longitude: l.GetDegreesLongitude(), Ref: ref}, true
	}
	slog.Debug("whatsapp ConvertMessage ignoring unsupported message", "from", from)
	return nil, false
}

// ConvertCallOffer maps an incoming call offer.
func ConvertCallOffer(v *events.CallOffer) models.CallEvent {
	return models.CallEvent{
		From:    v.CallCreator.User,
		CallID:  v.CallID,
		Status:  models.CallOffer,
		Caller:  v.From.String(),
		Arrived: v.Timestamp,
	}
}
