package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/CitaBot/internal/util"
)

// TwilioService implements Service on the Twilio REST API. Inbound
// messages arrive through TwilioWebhookHandler. Reactions, presence, read
// receipts and call control are not available on Twilio and are no-ops.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	validator *client.RequestValidator // nil skips signature checks
	publicURL string
	events    chan models.InboundEvent
	mu        sync.RWMutex
	stopped   bool
	media     sync.Map // message sid -> media url
}

var _ Service = (*TwilioService)(nil)

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation verifies X-Twilio-Signature against authToken.
// publicURL is the webhook URL as configured in the Twilio console.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		v := client.NewRequestValidator(authToken)
		s.validator = &v
		s.publicURL = publicURL
	}
}

// NewTwilioService wraps a Twilio client or mock.
func NewTwilioService(c twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client: c,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalRecipient(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; inbound traffic comes through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the events channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	return nil
}

func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.events
}

func (s *TwilioService) SendText(ctx context.Context, to, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// SendImage sends the caption only; Twilio needs a public media URL, not bytes.
func (s *TwilioService) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	slog.Debug("TwilioService SendImage sending caption only", "to", to, "bytes", len(image))
	if caption == "" {
		return nil
	}
	return s.SendText(ctx, to, caption)
}

func (s *TwilioService) SendReaction(ctx context.Context, ref models.MessageRef, emoji string) error {
	return nil
}

func (s *TwilioService) SendPresence(ctx context.Context, to string, p models.Presence) error {
	return nil
}

func (s *TwilioService) MarkRead(ctx context.Context, ref models.MessageRef) error {
	return nil
}

func (s *TwilioService) RejectCall(ctx context.Context, call models.CallEvent) error {
	return nil
}

// DownloadMedia fetches the media attached to a webhook message.
func (s *TwilioService) DownloadMedia(ctx context.Context, ref models.MessageRef) ([]byte, error) {
	url, ok := s.media.LoadAndDelete(ref.ID)
	if !ok {
		return nil, fmt.Errorf("no media recorded for message %s", ref.ID)
	}
	return s.client.FetchMedia(ctx, url.(string))
}

// TwilioWebhookHandler parses an inbound Twilio webhook into an InboundEvent.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService webhook failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.validator != nil && !s.validSignature(r) {
		slog.Warn("TwilioService webhook rejected: bad signature")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ev, err := s.parseWebhook(r)
	if err != nil {
		slog.Warn("TwilioService webhook ignored", "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	s.safeEmit(ev)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}

func (s *TwilioService) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.validator.Validate(s.publicURL, params, r.Header.Get("X-Twilio-Signature"))
}

func (s *TwilioService) parseWebhook(r *http.Request) (models.InboundEvent, error) {
	from := util.CanonicalPhone(r.FormValue("From"))
	if from == "" {
		return nil, fmt.Errorf("missing From")
	}
	sid := r.FormValue("MessageSid")
	ref := models.MessageRef{ID: sid, ChatID: from, SenderID: from, Timestamp: time.Now()}

	if lat, lon := r.FormValue("Latitude"), r.FormValue("Longitude"); lat != "" && lon != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		lo, err2 := strconv.ParseFloat(lon, 64)
		if err1 == nil && err2 == nil {
			return models.LocationShare{From: from, Latitude: la, Longitude: lo, Ref: ref}, nil
		}
	}
	if n, _ := strconv.Atoi(r.FormValue("NumMedia")); n > 0 {
		ctype := r.FormValue("MediaContentType0")
		if strings.HasPrefix(ctype, "audio/") {
			s.media.Store(sid, r.FormValue("MediaUrl0"))
			return models.VoiceNote{From: from, Ref: ref, Mimetype: ctype}, nil
		}
	}
	body := r.FormValue("Body")
	if body == "" {
		return nil, fmt.Errorf("missing Body")
	}
	return models.TextMessage{From: from, Body: body, Ref: ref}, nil
}

func (s *TwilioService) safeEmit(ev models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "from", ev.Sender())
		return
	}
	select {
	case s.events <- ev:
		slog.Debug("TwilioService emitted inbound event", "from", ev.Sender(), "kind", models.EventKind(ev))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping event", "from", ev.Sender())
	}
}
