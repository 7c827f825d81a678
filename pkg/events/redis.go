package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTransport publishes domain events over Redis pub/sub channels.
// Subjects map 1:1 to Redis channels.
type RedisTransport struct {
	client redis.UniversalClient

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisTransport wraps an existing Redis client.
func NewRedisTransport(client redis.UniversalClient) (*RedisTransport, error) {
	if client == nil {
		return nil, fmt.Errorf("events: redis client cannot be nil")
	}
	return &RedisTransport{client: client}, nil
}

// Ping checks if the Redis connection is healthy.
func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Publish publishes the payload to the subject's channel.
func (t *RedisTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	if subject == "" {
		return fmt.Errorf("events: subject cannot be empty")
	}
	if err := t.client.Publish(ctx, subject, payload).Err(); err != nil {
		return fmt.Errorf("events: redis publish: %w", err)
	}
	return nil
}

// Subscribe opens a pattern subscription. The ">" suffix wildcard is
// translated to the Redis glob form.
func (t *RedisTransport) Subscribe(ctx context.Context, pattern string, buffer int) (<-chan Message, func() error, error) {
	if pattern == "" {
		return nil, nil, fmt.Errorf("events: subscription pattern cannot be empty")
	}
	if buffer <= 0 {
		buffer = 32
	}

	sub := t.client.PSubscribe(ctx, redisPattern(pattern))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("events: redis subscribe: %w", err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	out := make(chan Message, buffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			m := Message{
				Subject:   msg.Channel,
				Payload:   []byte(msg.Payload),
				Timestamp: time.Now().UTC(),
			}
			select {
			case out <- m:
			default:
				// non-blocking drop for slow subscribers
			}
		}
	}()

	return out, sub.Close, nil
}

// Close closes all open subscriptions.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func redisPattern(pattern string) string {
	if strings.HasSuffix(pattern, ".>") {
		return strings.TrimSuffix(pattern, ">") + "*"
	}
	return pattern
}
