package whatsapp

import (
	"context"
	"sync"

	"github.com/BTreeMap/CitaBot/internal/models"
)

// SentText is one text recorded by MockClient.
type SentText struct {
	To   string
	Body string
}

// SentImage is one image recorded by MockClient.
type SentImage struct {
	To      string
	Caption string
	Size    int
}

// SentReaction is one reaction recorded by MockClient.
type SentReaction struct {
	MessageID string
	Emoji     string
}

// MockClient records every call and never touches the network. Emit feeds
// inbound events to the registered handlers.
type MockClient struct {
	mu        sync.Mutex
	Texts     []SentText
	Images    []SentImage
	Reactions []SentReaction
	Presences []models.Presence
	Read      []string
	Rejected  []string
	Media     map[string][]byte
	Err       error // returned by every send when set
	handlers  []func(models.InboundEvent)
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{Media: make(map[string][]byte)}
}

func (m *MockClient) SendText(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Texts = append(m.Texts, SentText{To: to, Body: body})
	return nil
}

func (m *MockClient) SendImage(_ context.Context, to string, image []byte, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Images = append(m.Images, SentImage{To: to, Caption: caption, Size: len(image)})
	return nil
}

func (m *MockClient) SendReaction(_ context.Context, ref models.MessageRef, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reactions = append(m.Reactions, SentReaction{MessageID: ref.ID, Emoji: emoji})
	return nil
}

func (m *MockClient) SendPresence(_ context.Context, _ string, p models.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Presences = append(m.Presences, p)
	return nil
}

func (m *MockClient) MarkRead(_ context.Context, ref models.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Read = append(m.Read, ref.ID)
	return nil
}

func (m *MockClient) DownloadMedia(_ context.Context, ref models.MessageRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Media[ref.ID]
	if !ok {
		return nil, ErrMediaNotFound
	}
	return data, nil
}

func (m *MockClient) RejectCall(_ context.Context, _ string, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rejected = append(m.Rejected, callID)
	return nil
}

func (m *MockClient) AddInboundHandler(fn func(models.InboundEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Emit delivers ev to every registered handler.
func (m *MockClient) Emit(ev models.InboundEvent) {
	m.mu.Lock()
	handlers := append(([]func(models.InboundEvent))(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// SentTexts returns a copy of the recorded texts.
func (m *MockClient) SentTexts() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentText(nil), m.Texts...)
}
