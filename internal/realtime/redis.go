package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
)

// RedisBroker uses Redis pub/sub so every instance behind a load balancer
// sees every event
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an existing client
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish sends payload on the redis channel named topic
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning. The
// channel is closed when the subscriber falls a full buffer behind.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	out := make(chan []byte, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(done) })
	}

	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					logging.L().Warn("Closing slow realtime subscriber", zap.String("topic", topic))
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// Close leaves the shared client open; its owner closes it
func (b *RedisBroker) Close() error {
	return nil
}
