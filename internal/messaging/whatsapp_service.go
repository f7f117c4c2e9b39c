package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/whatsapp"
)

// WhatsAppService implements Service on the whatsmeow client.
type WhatsAppService struct {
	client  whatsapp.Sender
	events  chan models.InboundEvent
	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps client, a *whatsapp.Client or a mock.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	return &WhatsAppService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
}

func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient(recipient)
}

// Start registers the inbound handler on the client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	s.client.AddInboundHandler(s.emit)
	return nil
}

// Stop closes the events channel. Later sends fail with ErrServiceStopped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	slog.Info("WhatsAppService stopped and channel closed")
	return nil
}

func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *WhatsAppService) SendText(ctx context.Context, to, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendText(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", canonical)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonical, "body_length", len(body))
	return nil
}

func (s *WhatsAppService) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendImage(ctx, canonical, image, caption)
}

func (s *WhatsAppService) SendReaction(ctx context.Context, ref models.MessageRef, emoji string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendReaction(ctx, ref, emoji)
}

func (s *WhatsAppService) SendPresence(ctx context.Context, to string, p models.Presence) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendPresence(ctx, to, p)
}

func (s *WhatsAppService) MarkRead(ctx context.Context, ref models.MessageRef) error {
	return s.client.MarkRead(ctx, ref)
}

func (s *WhatsAppService) DownloadMedia(ctx context.Context, ref models.MessageRef) ([]byte, error) {
	return s.client.DownloadMedia(ctx, ref)
}

func (s *WhatsAppService) RejectCall(ctx context.Context, call models.CallEvent) error {
	return s.client.RejectCall(ctx, call.Caller, call.CallID)
}

// emit forwards ev to the events channel, dropping it when the channel stays full.
func (s *WhatsAppService) emit(ev models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound event (service stopped)", "from", ev.Sender())
		return
	}
	select {
	case s.events <- ev:
		slog.Debug("WhatsAppService inbound event forwarded", "from", ev.Sender(), "kind", models.EventKind(ev))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping event", "from", ev.Sender(), "timeout", DefaultChannelTimeout)
	}
}
