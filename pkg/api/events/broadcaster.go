// Package events bridges the domain event bus to API-facing subscribers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	busevents "github.com/payrail/payrail/pkg/events"
)

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster broadcasts events to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast broadcasts a generic event to all subscribers.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Deliver while holding the read lock: Unsubscribe and Close need the
	// write lock to close a channel, so no send can race a close. Sends
	// are non-blocking, overflowing subscribers just miss the event.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// BroadcastEnvelope broadcasts a decoded domain event envelope.
func (b *Broadcaster) BroadcastEnvelope(envelope busevents.Envelope) {
	var payload any
	if len(envelope.Payload) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(envelope.Payload, &decoded); err == nil {
			payload = decoded
		} else {
			payload = json.RawMessage(envelope.Payload)
		}
	}

	b.Broadcast(Event{
		Type:      envelope.EventType,
		Timestamp: envelope.Timestamp,
		Payload:   payload,
	})
}

// Run consumes raw bus messages and re-broadcasts them until the channel
// closes or the context ends.
func (b *Broadcaster) Run(ctx context.Context, messages <-chan busevents.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var envelope busevents.Envelope
			if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
				continue
			}
			b.BroadcastEnvelope(envelope)
		}
	}
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
