package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBuildEnvelope(t *testing.T) {
	envelope, err := BuildEnvelope(EventTransactionCompleted, map[string]any{"amount": 10})
	if err != nil {
		t.Fatalf("BuildEnvelope() error = %v", err)
	}
	if envelope.EventID == "" {
		t.Fatal("EventID not generated")
	}
	if envelope.EventType != EventTransactionCompleted {
		t.Fatalf("EventType = %q", envelope.EventType)
	}
	if envelope.Version != SchemaVersion || envelope.Source != Source {
		t.Fatalf("envelope identity = %q %q", envelope.Version, envelope.Source)
	}

	var payload map[string]any
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal error = %v", err)
	}
	if payload["amount"] != float64(10) {
		t.Fatalf("payload = %v", payload)
	}

	if _, err := BuildEnvelope("", nil); err == nil {
		t.Fatal("empty event type accepted")
	}
}

func TestSubjects(t *testing.T) {
	if got := Subject(EventTransactionCreated); got != "payrail.v1.transaction.created" {
		t.Fatalf("Subject() = %q", got)
	}
	if got := WildcardSubject(); got != "payrail.v1.>" {
		t.Fatalf("WildcardSubject() = %q", got)
	}
}

func TestSubjectMatches(t *testing.T) {
	cases := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"payrail.v1.transaction.created", "payrail.v1.transaction.created", true},
		{"payrail.v1.transaction.created", "payrail.v1.transaction.failed", false},
		{"payrail.v1.>", "payrail.v1.transaction.created", true},
		{"payrail.v1.>", "payrail.v1.notification.send", true},
		{"payrail.v1.>", "other.v1.transaction.created", false},
		{"payrail.v1.transaction.*", "payrail.v1.transaction.created", true},
		{"payrail.v1.transaction.*", "payrail.v1.transaction.created.extra", false},
		{"payrail.v1.*.send", "payrail.v1.notification.send", true},
	}
	for _, tc := range cases {
		if got := subjectMatches(tc.pattern, tc.subject); got != tc.want {
			t.Errorf("subjectMatches(%q, %q) = %v, want %v", tc.pattern, tc.subject, got, tc.want)
		}
	}
}

func TestMemoryBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewMemoryBus()

	exact, err := bus.Subscribe("payrail.v1.transaction.created", 4)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer exact.Close()

	wildcard, err := bus.Subscribe(WildcardSubject(), 4)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer wildcard.Close()

	if err := bus.Publish(context.Background(), "payrail.v1.transaction.created", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for name, sub := range map[string]*Subscription{"exact": exact, "wildcard": wildcard} {
		select {
		case msg := <-sub.C():
			if msg.Subject != "payrail.v1.transaction.created" {
				t.Fatalf("%s subject = %q", name, msg.Subject)
			}
			if string(msg.Payload) != `{"a":1}` {
				t.Fatalf("%s payload = %q", name, msg.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber did not receive the message", name)
		}
	}
}

func TestMemoryBusCloseStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	sub, err := bus.Subscribe(WildcardSubject(), 1)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Closing twice must be safe.
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := bus.Publish(context.Background(), "payrail.v1.x", []byte("y")); err != nil {
		t.Fatalf("Publish() after close error = %v", err)
	}
}

func TestMemoryBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewMemoryBus()
	sub, _ := bus.Subscribe(WildcardSubject(), 1)
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "payrail.v1.x", []byte("y")); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	// Only the buffered message is retained; publishing never blocked.
	if got := len(sub.C()); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}
}

// flakyTransport fails the first n publish attempts.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	attempts int
	subjects []string
	payloads [][]byte
}

func (f *flakyTransport) Publish(_ context.Context, subject string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("transport down")
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return nil
}

type countingTelemetry struct {
	mu       sync.Mutex
	statuses map[string]int
	retries  int
	degraded []bool
}

func (c *countingTelemetry) RecordPublish(_, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statuses == nil {
		c.statuses = map[string]int{}
	}
	c.statuses[status]++
}

func (c *countingTelemetry) RecordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
}

func (c *countingTelemetry) SetDegradedMode(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = append(c.degraded, active)
}

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestPublisherRetriesUntilSuccess(t *testing.T) {
	transport := &flakyTransport{failures: 2}
	telemetry := &countingTelemetry{}
	p, err := NewPublisher(transport,
		WithRetryConfig(fastRetry(3)),
		WithTelemetry(telemetry),
	)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	p.Publish(context.Background(), EventTransactionCreated, map[string]any{"x": 1})

	if len(transport.subjects) != 1 {
		t.Fatalf("delivered = %d, want 1", len(transport.subjects))
	}
	if transport.subjects[0] != Subject(EventTransactionCreated) {
		t.Fatalf("subject = %q", transport.subjects[0])
	}
	if telemetry.retries != 2 {
		t.Fatalf("retries = %d, want 2", telemetry.retries)
	}
	if telemetry.statuses["success"] != 1 {
		t.Fatalf("statuses = %v", telemetry.statuses)
	}
	if p.Degraded() {
		t.Fatal("publisher degraded after successful delivery")
	}

	var envelope Envelope
	if err := json.Unmarshal(transport.payloads[0], &envelope); err != nil {
		t.Fatalf("delivered payload is not an envelope: %v", err)
	}
	if envelope.EventType != EventTransactionCreated {
		t.Fatalf("envelope.EventType = %q", envelope.EventType)
	}
}

func TestPublisherSwallowsExhaustedFailure(t *testing.T) {
	transport := &flakyTransport{failures: 100}
	telemetry := &countingTelemetry{}
	p, err := NewPublisher(transport,
		WithRetryConfig(fastRetry(2)),
		WithTelemetry(telemetry),
	)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	// Must not panic or return anything; failure is absorbed.
	p.Publish(context.Background(), EventTransactionFailed, map[string]any{"x": 1})

	if telemetry.statuses["failed"] != 1 {
		t.Fatalf("statuses = %v", telemetry.statuses)
	}
	if !p.Degraded() {
		t.Fatal("publisher should be degraded after exhausting retries")
	}

	// A later success clears degraded mode.
	transport.mu.Lock()
	transport.failures = 0
	transport.attempts = 0
	transport.mu.Unlock()
	p.Publish(context.Background(), EventTransactionCompleted, nil)
	if p.Degraded() {
		t.Fatal("degraded mode should clear on success")
	}
}

func TestNewPublisherValidatesConfig(t *testing.T) {
	if _, err := NewPublisher(nil); err == nil {
		t.Fatal("nil transport accepted")
	}
	if _, err := NewPublisher(&flakyTransport{}, WithRetryConfig(RetryConfig{MaxRetries: -1, InitialBackoff: 1, MaxBackoff: 1, BackoffFactor: 2})); err == nil {
		t.Fatal("negative retries accepted")
	}
	if _, err := NewPublisher(&flakyTransport{}, WithRetryConfig(RetryConfig{MaxRetries: 1, InitialBackoff: 0, MaxBackoff: 1, BackoffFactor: 2})); err == nil {
		t.Fatal("zero backoff accepted")
	}
}

func TestConsumerDeduplicatesByEventID(t *testing.T) {
	var handled []string
	c := NewConsumer(func(_ context.Context, e Envelope) {
		handled = append(handled, e.EventID)
	}, nil)

	envelope, _ := BuildEnvelope(EventTransactionCreated, nil)
	raw, _ := json.Marshal(envelope)

	ctx := context.Background()
	c.Consume(ctx, raw)
	c.Consume(ctx, raw)

	if len(handled) != 1 {
		t.Fatalf("handled = %v, want single delivery", handled)
	}
	processed, dropped := c.Stats()
	if processed != 1 || dropped != 0 {
		t.Fatalf("stats = %d processed, %d dropped", processed, dropped)
	}
}

func TestConsumerDedupeWindowIsBounded(t *testing.T) {
	var handled int
	c := NewConsumer(func(context.Context, Envelope) {
		handled++
	}, nil)

	encode := func(id string) []byte {
		raw, err := json.Marshal(Envelope{
			EventID:   id,
			EventType: EventTransactionCreated,
			Timestamp: time.Now().UTC(),
			Version:   SchemaVersion,
			Source:    Source,
		})
		if err != nil {
			t.Fatalf("marshal envelope: %v", err)
		}
		return raw
	}

	ctx := context.Background()
	c.Consume(ctx, encode("first"))
	for i := 0; i < dedupeCapacity; i++ {
		c.Consume(ctx, encode(fmt.Sprintf("filler-%d", i)))
	}

	// "first" has been evicted from the window and is delivered again;
	// a recent id is still suppressed.
	before := handled
	c.Consume(ctx, encode("first"))
	if handled != before+1 {
		t.Fatal("evicted id should be deliverable again")
	}
	c.Consume(ctx, encode(fmt.Sprintf("filler-%d", dedupeCapacity-1)))
	if handled != before+1 {
		t.Fatal("recent id should still be suppressed")
	}

	if len(c.seen) > dedupeCapacity {
		t.Fatalf("seen holds %d ids, cap is %d", len(c.seen), dedupeCapacity)
	}
}

func TestConsumerDropsMalformedMessages(t *testing.T) {
	c := NewConsumer(func(context.Context, Envelope) {
		t.Fatal("handler must not run for malformed input")
	}, nil)

	ctx := context.Background()
	c.Consume(ctx, []byte("not json"))
	c.Consume(ctx, []byte(`{"event_type":"x"}`)) // missing event_id

	processed, dropped := c.Stats()
	if processed != 0 || dropped != 2 {
		t.Fatalf("stats = %d processed, %d dropped", processed, dropped)
	}
}

func TestConsumerRunDrainsChannel(t *testing.T) {
	var mu sync.Mutex
	var handled int
	c := NewConsumer(func(context.Context, Envelope) {
		mu.Lock()
		handled++
		mu.Unlock()
	}, nil)

	messages := make(chan Message, 2)
	for i := 0; i < 2; i++ {
		envelope, _ := BuildEnvelope(EventTransactionCreated, map[string]any{"i": i})
		raw, _ := json.Marshal(envelope)
		messages <- Message{Subject: Subject(EventTransactionCreated), Payload: raw}
	}
	close(messages)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), messages)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
	mu.Lock()
	defer mu.Unlock()
	if handled != 2 {
		t.Fatalf("handled = %d, want 2", handled)
	}
}

func TestRedisPatternTranslation(t *testing.T) {
	cases := map[string]string{
		"payrail.v1.>":                   "payrail.v1.*",
		"payrail.v1.transaction.created": "payrail.v1.transaction.created",
		"payrail.v1.*":                   "payrail.v1.*",
	}
	for in, want := range cases {
		if got := redisPattern(in); got != want {
			t.Errorf("redisPattern(%q) = %q, want %q", in, got, want)
		}
	}
}
