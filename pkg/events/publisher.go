package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/payrail/payrail/pkg/logger"
)

// Transport publishes bytes to a subject.
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Telemetry records publish behavior and bus health.
type Telemetry interface {
	RecordPublish(eventType, status string)
	RecordRetry()
	SetDegradedMode(active bool)
}

type nopTelemetry struct{}

func (nopTelemetry) RecordPublish(eventType, status string) {}
func (nopTelemetry) RecordRetry()                           {}
func (nopTelemetry) SetDegradedMode(active bool)            {}

// RetryConfig controls retry/backoff behavior for publish attempts.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2,
	}
}

// Publisher emits domain events. Publishing is fire-and-forget from the
// caller's perspective: failures are logged and counted, never returned
// to the business flow.
type Publisher struct {
	transport Transport
	retry     RetryConfig
	telemetry Telemetry
	logger    logger.Logger

	mu       sync.Mutex
	degraded bool
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(retry RetryConfig) PublisherOption {
	return func(p *Publisher) { p.retry = retry }
}

// WithTelemetry attaches a telemetry recorder.
func WithTelemetry(t Telemetry) PublisherOption {
	return func(p *Publisher) {
		if t != nil {
			p.telemetry = t
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l logger.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher creates a domain event publisher.
func NewPublisher(transport Transport, opts ...PublisherOption) (*Publisher, error) {
	if transport == nil {
		return nil, fmt.Errorf("events: transport cannot be nil")
	}
	p := &Publisher{
		transport: transport,
		retry:     DefaultRetryConfig(),
		telemetry: nopTelemetry{},
		logger:    logger.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.MaxRetries < 0 {
		return nil, fmt.Errorf("events: max retries cannot be negative")
	}
	if p.retry.InitialBackoff <= 0 || p.retry.MaxBackoff <= 0 || p.retry.BackoffFactor < 1 {
		return nil, fmt.Errorf("events: invalid retry config")
	}
	return p, nil
}

// Publish builds an envelope and delivers it with retry/backoff. Errors
// are swallowed after logging so that event emission never fails the
// business operation that triggered it.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) {
	envelope, err := BuildEnvelope(eventType, payload)
	if err != nil {
		p.telemetry.RecordPublish(eventType, "failed")
		p.logger.ErrorContext(ctx, "failed to build event envelope",
			"event_type", eventType,
			"error", err)
		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		p.telemetry.RecordPublish(eventType, "failed")
		p.logger.ErrorContext(ctx, "failed to marshal event envelope",
			"event_type", eventType,
			"event_id", envelope.EventID,
			"error", err)
		return
	}

	subject := Subject(eventType)
	backoff := p.retry.InitialBackoff
	var publishErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		publishErr = p.transport.Publish(ctx, subject, body)
		if publishErr == nil {
			p.telemetry.RecordPublish(eventType, "success")
			p.setDegraded(false)
			p.logger.DebugContext(ctx, "event published",
				"event_type", eventType,
				"event_id", envelope.EventID)
			return
		}
		if attempt == p.retry.MaxRetries {
			break
		}
		p.telemetry.RecordRetry()

		select {
		case <-ctx.Done():
			p.telemetry.RecordPublish(eventType, "failed")
			p.setDegraded(true)
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, p.retry.MaxBackoff, p.retry.BackoffFactor)
	}

	p.telemetry.RecordPublish(eventType, "failed")
	p.setDegraded(true)
	p.logger.ErrorContext(ctx, "failed to publish event",
		"event_type", eventType,
		"event_id", envelope.EventID,
		"error", publishErr)
}

// Degraded reports whether the publisher currently considers the bus degraded.
func (p *Publisher) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *Publisher) setDegraded(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.degraded == active {
		return
	}
	p.degraded = active
	p.telemetry.SetDegradedMode(active)
}

func nextBackoff(current, max time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
