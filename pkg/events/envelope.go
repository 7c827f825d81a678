package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersion is the current domain event schema.
	SchemaVersion = "1.0"

	// Source identifies this service as the event origin.
	Source = "payrail"
)

// Domain event types emitted by the transaction pipeline.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventTransactionReversed  = "transaction.reversed"
	EventNotificationSend     = "notification.send"
)

// Envelope is the canonical domain event envelope.
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// BuildEnvelope creates an envelope with generated event identity.
func BuildEnvelope(eventType string, payload any) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: event type is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload: %w", err)
	}

	return Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Version:   SchemaVersion,
		Source:    Source,
		Payload:   body,
	}, nil
}
