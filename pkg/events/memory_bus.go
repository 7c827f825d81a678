package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Message is a delivered event-bus message.
type Message struct {
	Subject   string
	Payload   []byte
	Timestamp time.Time
}

// Subscription represents a stream subscription.
type Subscription struct {
	id   uint64
	ch   chan Message
	bus  *MemoryBus
	once sync.Once
}

// C returns the read-only message channel.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.drop(s.id)
		close(s.ch)
	})
	return nil
}

type memorySub struct {
	pattern string
	ch      chan Message
}

// MemoryBus is an in-process pub/sub transport useful for tests and
// single-node deployments. Delivery is non-blocking: a subscriber whose
// buffer is full misses the message rather than stalling publishers.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]memorySub
}

// NewMemoryBus creates an in-memory event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uint64]memorySub)}
}

// Publish delivers payload to every subscription whose pattern matches
// subject.
func (b *MemoryBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subject == "" {
		return fmt.Errorf("events: subject cannot be empty")
	}

	msg := Message{
		Subject:   subject,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !subjectMatches(sub.pattern, subject) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a pattern subscription with the given channel
// buffer.
func (b *MemoryBus) Subscribe(pattern string, buffer int) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("events: subscription pattern cannot be empty")
	}
	if buffer <= 0 {
		buffer = 32
	}

	ch := make(chan Message, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = memorySub{pattern: pattern, ch: ch}
	b.mu.Unlock()

	return &Subscription{id: id, ch: ch, bus: b}, nil
}

func (b *MemoryBus) drop(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// subjectMatches supports exact subjects, "*" single-segment wildcards,
// and a trailing ">" that matches any remainder.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	if tail, ok := strings.CutSuffix(pattern, ".>"); ok {
		if tail == "" {
			return true
		}
		return subject == tail || strings.HasPrefix(subject, tail+".")
	}

	pp := strings.Split(pattern, ".")
	sp := strings.Split(subject, ".")
	if len(pp) != len(sp) {
		return false
	}
	for i, seg := range pp {
		if seg != "*" && seg != sp[i] {
			return false
		}
	}
	return true
}
