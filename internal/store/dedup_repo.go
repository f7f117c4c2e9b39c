// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID     string     `json:"message_id"`
	ParticipantID string     `json:"participant_id"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// whatsmeow redelivers recent messages after a reconnect; the transport
// records every message id before handing the event to the engine.
type DedupRepo interface {
	// IsDuplicate checks if a message ID has already been seen.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, participantID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}
