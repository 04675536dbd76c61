package broadcast

import (
	"context"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTransport fans deltas out over a Redis pub/sub channel, so every process
// sharing the Redis instance acts as a tab. Redis echoes a publisher's own
// messages back to it; the Broadcaster drops those by origin.
type RedisTransport struct {
	client *redis.Client
	topic  string
	logger *zap.Logger

	mu      sync.Mutex
	pubsubs []*redis.PubSub
}

// NewRedisTransport uses a Redis pub/sub channel as the tab bus.
//
// Parameters:
//   - client: connected Redis client, owned by the caller
//   - topic: channel name shared by all tabs
//   - logger: component logger; nil disables logging
//
// Returns:
//   - *RedisTransport: not yet subscribed
func NewRedisTransport(client *redis.Client, topic string, logger *zap.Logger) *RedisTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTransport{
		client: client,
		topic:  topic,
		logger: logger.With(zap.String("transport", "redis"), zap.String("topic", topic)),
	}
}

// Publish sends payload on the topic.
func (t *RedisTransport) Publish(ctx context.Context, payload []byte) error {
	if err := t.client.Publish(ctx, t.topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", t.topic, err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed; delivery runs in the background.
func (t *RedisTransport) Subscribe(ctx context.Context, handler func([]byte)) error {
	pubsub := t.client.Subscribe(ctx, t.topic)
	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to channel %s: %w", t.topic, err)
	}

	t.mu.Lock()
	t.pubsubs = append(t.pubsubs, pubsub)
	t.mu.Unlock()

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Close stops the subscription. The client is left open.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for _, ps := range t.pubsubs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.pubsubs = nil
	return firstErr
}
