package transaction

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/payrail/payrail/pkg/events"
)

// memoryTransport captures published envelopes keyed by subject.
type memoryTransport struct {
	mu        sync.Mutex
	published []events.Envelope
	subjects  []string
}

func (m *memoryTransport) Publish(_ context.Context, subject string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var envelope events.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return err
	}
	m.published = append(m.published, envelope)
	m.subjects = append(m.subjects, subject)
	return nil
}

func (m *memoryTransport) byType(eventType string) []events.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Envelope
	for _, e := range m.published {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newSinkUnderTest(t *testing.T) (*BusEventSink, *memoryTransport) {
	t.Helper()
	transport := &memoryTransport{}
	publisher, err := events.NewPublisher(transport)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	return NewBusEventSink(publisher), transport
}

func completedTransaction() *Transaction {
	tx := New(CreateInput{SenderUserID: "sender", ReceiverUserID: "receiver", Amount: 25, Description: "rent"})
	tx.applyStatus(StatusProcessing, "", "")
	tx.applyStatus(StatusCompleted, "", "")
	return tx
}

func TestBusEventSinkCompletedNotifiesBothParties(t *testing.T) {
	sink, transport := newSinkUnderTest(t)
	tx := completedTransaction()

	sink.TransactionCompleted(context.Background(), tx)

	if got := transport.byType(events.EventTransactionCompleted); len(got) != 1 {
		t.Fatalf("completed events = %d, want 1", len(got))
	}

	notifications := transport.byType(events.EventNotificationSend)
	if len(notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifications))
	}

	templates := map[string]NotificationPayload{}
	for _, envelope := range notifications {
		var payload NotificationPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			t.Fatalf("notification payload: %v", err)
		}
		templates[payload.Template] = payload
	}

	senderNote, ok := templates[TemplateTransactionCompleted]
	if !ok {
		t.Fatalf("templates = %v, missing completed", templates)
	}
	if senderNote.UserID != "sender" || senderNote.Priority != "normal" {
		t.Fatalf("sender notification = %+v", senderNote)
	}

	receiverNote, ok := templates[TemplateTransactionReceived]
	if !ok {
		t.Fatalf("templates = %v, missing received", templates)
	}
	if receiverNote.UserID != "receiver" {
		t.Fatalf("receiver notification = %+v", receiverNote)
	}
	if len(receiverNote.Channels) != 2 {
		t.Fatalf("channels = %v", receiverNote.Channels)
	}
}

func TestBusEventSinkFailedIsHighPriority(t *testing.T) {
	sink, transport := newSinkUnderTest(t)
	tx := New(CreateInput{SenderUserID: "sender", ReceiverUserID: "receiver", Amount: 25})
	tx.applyStatus(StatusProcessing, "", "")
	tx.applyStatus(StatusFailed, "withdraw failed", CodeTransferFailed)

	sink.TransactionFailed(context.Background(), tx)

	failedEvents := transport.byType(events.EventTransactionFailed)
	if len(failedEvents) != 1 {
		t.Fatalf("failed events = %d, want 1", len(failedEvents))
	}
	var payload EventPayload
	if err := json.Unmarshal(failedEvents[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.ErrorCode != CodeTransferFailed || payload.ErrorMessage != "withdraw failed" {
		t.Fatalf("payload = %+v", payload)
	}

	notifications := transport.byType(events.EventNotificationSend)
	if len(notifications) != 1 {
		t.Fatalf("notifications = %d, want 1 (sender only)", len(notifications))
	}
	var note NotificationPayload
	json.Unmarshal(notifications[0].Payload, &note)
	if note.UserID != "sender" || note.Priority != "high" || note.Template != TemplateTransactionFailed {
		t.Fatalf("notification = %+v", note)
	}
}

func TestBusEventSinkReversedEmitsEventOnly(t *testing.T) {
	sink, transport := newSinkUnderTest(t)
	tx := New(CreateInput{SenderUserID: "sender", ReceiverUserID: "receiver", Amount: 25})
	tx.applyStatus(StatusProcessing, "", "")
	tx.applyStatus(StatusReversed, "deposit failed", CodeTransferFailed)

	sink.TransactionReversed(context.Background(), tx)

	if got := transport.byType(events.EventTransactionReversed); len(got) != 1 {
		t.Fatalf("reversed events = %d, want 1", len(got))
	}
	if got := transport.byType(events.EventNotificationSend); len(got) != 0 {
		t.Fatalf("notifications = %d, want 0", len(got))
	}
}

func TestBusEventSinkSubjects(t *testing.T) {
	sink, transport := newSinkUnderTest(t)
	sink.TransactionCreated(context.Background(), completedTransaction())

	if len(transport.subjects) != 1 {
		t.Fatalf("subjects = %v", transport.subjects)
	}
	if transport.subjects[0] != "payrail.v1.transaction.created" {
		t.Fatalf("subject = %q", transport.subjects[0])
	}
}
