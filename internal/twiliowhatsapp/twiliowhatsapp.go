// Package twiliowhatsapp wraps the Twilio REST API for WhatsApp messaging.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const mediaTimeout = 15 * time.Second

// Sender is the part of the Twilio API the messaging service uses.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
	// FetchMedia downloads an inbound media URL with the account credentials.
	FetchMedia(ctx context.Context, url string) ([]byte, error)
}

// Opts holds the Twilio credentials and sender number.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // "whatsapp:+59170000000"
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST client.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
	sid       string
	token     string
	http      *http.Client
}

var _ Sender = (*Client)(nil)

// NewClient creates the client, reading TWILIO_* variables for missing options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("twiliowhatsapp NewClient config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		client:    client,
		fromWhats: cfg.FromWhats,
		sid:       cfg.AccountSID,
		token:     cfg.AuthToken,
		http:      &http.Client{Timeout: mediaTimeout},
	}, nil
}

// SendMessage sends a WhatsApp text. to is the recipient in digits.
func (c *Client) SendMessage(ctx context.Context, to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("twiliowhatsapp Client message sent", "to", to, "sid", sid)
	return nil
}

// FetchMedia downloads a MediaUrl from an inbound webhook.
func (c *Client) FetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}
	req.SetBasicAuth(c.sid, c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	return data, nil
}

// MockClient records sends and serves media from a map.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Media        map[string][]byte
}

type SentMessage struct {
	To   string
	Body string
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{Media: make(map[string][]byte)}
}

func (m *MockClient) SendMessage(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) FetchMedia(_ context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Media[url]
	if !ok {
		return nil, fmt.Errorf("failed to fetch media: status %d", http.StatusNotFound)
	}
	return data, nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
