package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/payrail/payrail/pkg/logger"
)

// Handler processes a decoded envelope. Duplicates are suppressed before
// the handler runs.
type Handler func(ctx context.Context, envelope Envelope)

// dedupeCapacity bounds the duplicate-suppression window. Duplicate
// deliveries arrive close together (publisher retries, transport
// redelivery), so remembering the most recent ids is enough; a long-running
// process must not accumulate every id it has ever seen.
const dedupeCapacity = 4096

// Consumer decodes envelopes from a bus subscription, suppresses duplicate
// deliveries by event id, and dispatches to a handler. The default handler
// logs each event, which gives a single node an audit trail of its own
// domain events.
type Consumer struct {
	handler Handler
	logger  logger.Logger

	mu        sync.Mutex
	seen      map[string]struct{}
	ring      [dedupeCapacity]string
	next      int
	processed int64
	dropped   int64
}

// NewConsumer creates a consumer. A nil handler logs events.
func NewConsumer(handler Handler, log logger.Logger) *Consumer {
	if log == nil {
		log = logger.Global()
	}
	c := &Consumer{
		handler: handler,
		logger:  log,
		seen:    make(map[string]struct{}),
	}
	if c.handler == nil {
		c.handler = c.logEvent
	}
	return c
}

// Run consumes messages until the channel closes or the context ends.
func (c *Consumer) Run(ctx context.Context, messages <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.Consume(ctx, msg.Payload)
		}
	}
}

// Consume decodes and dispatches one raw message.
func (c *Consumer) Consume(ctx context.Context, raw []byte) {
	envelope, duplicate, err := c.decode(raw)
	if err != nil {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "dropping malformed event", "error", err)
		return
	}
	if duplicate {
		c.logger.DebugContext(ctx, "suppressed duplicate event",
			"event_id", envelope.EventID,
			"event_type", envelope.EventType)
		return
	}
	c.handler(ctx, envelope)

	c.mu.Lock()
	c.processed++
	c.mu.Unlock()
}

// Stats reports processed and dropped message counts.
func (c *Consumer) Stats() (processed, dropped int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed, c.dropped
}

func (c *Consumer) decode(raw []byte) (Envelope, bool, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, false, fmt.Errorf("events: invalid envelope json: %w", err)
	}
	if envelope.EventID == "" || envelope.EventType == "" {
		return Envelope{}, false, fmt.Errorf("events: envelope missing identity")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.seen[envelope.EventID]; exists {
		return envelope, true, nil
	}

	// Ring eviction: the slot being reused forgets the oldest id.
	if evicted := c.ring[c.next]; evicted != "" {
		delete(c.seen, evicted)
	}
	c.ring[c.next] = envelope.EventID
	c.next = (c.next + 1) % dedupeCapacity
	c.seen[envelope.EventID] = struct{}{}
	return envelope, false, nil
}

func (c *Consumer) logEvent(ctx context.Context, envelope Envelope) {
	c.logger.InfoContext(ctx, "domain event received",
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
		"source", envelope.Source,
		"version", envelope.Version)
}
