package models

import "time"

// MessageRef identifies one transport message so it can be marked read,
// reacted to or have its media downloaded.
type MessageRef struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Presence is the chat state shown to the other party.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// InboundEvent is one of TextMessage, VoiceNote, LocationShare or CallEvent.
type InboundEvent interface {
	Sender() string
	inbound()
}

// TextMessage is a plain text message.
type TextMessage struct {
	From string
	Body string
	Ref  MessageRef
}

// VoiceNote is a push-to-talk audio message; the audio is fetched on demand through the transport.
type VoiceNote struct {
	From     string
	Ref      MessageRef
	Mimetype string
	Seconds  uint32
}

// LocationShare is a pinned location sent by the user.
type LocationShare struct {
	From      string
	Latitude  float64
	Longitude float64
	Ref       MessageRef
}

// CallStatus is the state of an inbound voice call signal.
type CallStatus string

const (
	CallOffer     CallStatus = "offer"
	CallTerminate CallStatus = "terminate"
)

// CallEvent is a voice call signal.
type CallEvent struct {
	From    string
	CallID  string
	Status  CallStatus
	Caller  string // raw transport identity of the caller, needed to reject
	Arrived time.Time
}

func (e TextMessage) Sender() string   { return e.From }
func (e VoiceNote) Sender() string     { return e.From }
func (e LocationShare) Sender() string { return e.From }
func (e CallEvent) Sender() string     { return e.From }

func (TextMessage) inbound()   {}
func (VoiceNote) inbound()     {}
func (LocationShare) inbound() {}
func (CallEvent) inbound()     {}

// EventKind returns a short label for logs and metrics.
func EventKind(ev InboundEvent) string {
	switch ev.(type) {
	case TextMessage:
		return "text"
	case VoiceNote:
		return "voice"
	case LocationShare:
		return "location"
	case CallEvent:
		return "call"
	default:
		return "unknown"
	}
}
