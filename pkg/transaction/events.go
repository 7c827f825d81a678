package transaction

import (
	"context"

	"github.com/payrail/payrail/pkg/events"
)

// EventSink receives transaction lifecycle notifications. Implementations
// must be fire-and-forget: emission failures never surface to the caller.
type EventSink interface {
	TransactionCreated(ctx context.Context, tx *Transaction)
	TransactionCompleted(ctx context.Context, tx *Transaction)
	TransactionFailed(ctx context.Context, tx *Transaction)
	TransactionReversed(ctx context.Context, tx *Transaction)
}

// NopEventSink discards all events.
type NopEventSink struct{}

func (NopEventSink) TransactionCreated(ctx context.Context, tx *Transaction)   {}
func (NopEventSink) TransactionCompleted(ctx context.Context, tx *Transaction) {}
func (NopEventSink) TransactionFailed(ctx context.Context, tx *Transaction)    {}
func (NopEventSink) TransactionReversed(ctx context.Context, tx *Transaction)  {}

// EventPayload is the wire payload for transaction lifecycle events.
type EventPayload struct {
	TransactionID  string  `json:"transaction_id"`
	SenderUserID   string  `json:"sender_user_id"`
	ReceiverUserID string  `json:"receiver_user_id"`
	Amount         float64 `json:"amount"`
	Fee            float64 `json:"fee"`
	Description    string  `json:"description,omitempty"`
	Type           Type    `json:"type"`
	Status         Status  `json:"status"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	ErrorCode      string  `json:"error_code,omitempty"`
}

// NotificationPayload is the wire payload for notification.send events.
type NotificationPayload struct {
	UserID   string         `json:"user_id"`
	Type     string         `json:"type"`
	Template string         `json:"template"`
	Priority string         `json:"priority"`
	Data     map[string]any `json:"data"`
	Channels []string       `json:"channels"`
}

// Notification templates sent alongside terminal transaction events.
const (
	TemplateTransactionCompleted = "transaction_completed"
	TemplateTransactionReceived  = "transaction_received"
	TemplateTransactionFailed    = "transaction_failed"
)

// BusEventSink publishes transaction lifecycle events to the event bus.
type BusEventSink struct {
	publisher *events.Publisher
}

// NewBusEventSink wraps an event publisher.
func NewBusEventSink(publisher *events.Publisher) *BusEventSink {
	return &BusEventSink{publisher: publisher}
}

func (s *BusEventSink) TransactionCreated(ctx context.Context, tx *Transaction) {
	s.publisher.Publish(ctx, events.EventTransactionCreated, buildEventPayload(tx))
}

func (s *BusEventSink) TransactionCompleted(ctx context.Context, tx *Transaction) {
	s.publisher.Publish(ctx, events.EventTransactionCompleted, buildEventPayload(tx))
	s.notify(ctx, tx, tx.SenderUserID, TemplateTransactionCompleted)
	s.notify(ctx, tx, tx.ReceiverUserID, TemplateTransactionReceived)
}

func (s *BusEventSink) TransactionFailed(ctx context.Context, tx *Transaction) {
	s.publisher.Publish(ctx, events.EventTransactionFailed, buildEventPayload(tx))
	s.notify(ctx, tx, tx.SenderUserID, TemplateTransactionFailed)
}

func (s *BusEventSink) TransactionReversed(ctx context.Context, tx *Transaction) {
	s.publisher.Publish(ctx, events.EventTransactionReversed, buildEventPayload(tx))
}

func (s *BusEventSink) notify(ctx context.Context, tx *Transaction, userID, template string) {
	priority := "normal"
	if template == TemplateTransactionFailed {
		priority = "high"
	}
	s.publisher.Publish(ctx, events.EventNotificationSend, NotificationPayload{
		UserID:   userID,
		Type:     "in_app",
		Template: template,
		Priority: priority,
		Data: map[string]any{
			"transaction_id":   tx.ID,
			"amount":           tx.Amount,
			"sender_user_id":   tx.SenderUserID,
			"receiver_user_id": tx.ReceiverUserID,
			"description":      tx.Description,
			"status":           tx.Status,
		},
		Channels: []string{"email", "in_app"},
	})
}

func buildEventPayload(tx *Transaction) EventPayload {
	return EventPayload{
		TransactionID:  tx.ID,
		SenderUserID:   tx.SenderUserID,
		ReceiverUserID: tx.ReceiverUserID,
		Amount:         tx.Amount,
		Fee:            tx.Fee,
		Description:    tx.Description,
		Type:           tx.Type,
		Status:         tx.Status,
		ErrorMessage:   tx.ErrorMessage,
		ErrorCode:      tx.ErrorCode,
	}
}
