// Package messaging defines the transport abstraction the dialogue engine
// talks to, its whatsmeow and Twilio implementations, and the inbound pump
// that de-duplicates events before handing them to the engine.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/util"
)

const (
	// DefaultChannelBufferSize is the buffer of the inbound events channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked send on the events channel.
	DefaultChannelTimeout = 1 * time.Second
	minPhoneDigits        = 6
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service is a pluggable WhatsApp transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the recipient in digit form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	SendText(ctx context.Context, to, body string) error
	SendImage(ctx context.Context, to string, image []byte, caption string) error
	SendReaction(ctx context.Context, ref models.MessageRef, emoji string) error
	SendPresence(ctx context.Context, to string, p models.Presence) error
	MarkRead(ctx context.Context, ref models.MessageRef) error
	DownloadMedia(ctx context.Context, ref models.MessageRef) ([]byte, error)
	RejectCall(ctx context.Context, call models.CallEvent) error

	// Start begins background processing.
	Start(ctx context.Context) error
	// Stop ends background processing and closes Events.
	Stop() error
	// Events returns the inbound events channel.
	Events() <-chan models.InboundEvent
}

func canonicalRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := util.CanonicalPhone(recipient)
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}
