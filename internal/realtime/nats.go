package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
)

// NATSBroker publishes events as NATS subjects
type NATSBroker struct {
	conn *nats.Conn
}

// NewNATSBroker connects to url with reconnects enabled
func NewNATSBroker(url string) (*NATSBroker, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("agenthub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.L().Warn("NATS disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBroker{conn: nc}, nil
}

// Publish sends payload on subject topic
func (b *NATSBroker) Publish(_ context.Context, topic string, payload []byte) error {
	if err := b.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe listens on subject topic until cancelled or until the subscriber
// falls a full buffer behind
func (b *NATSBroker) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	out := make(chan []byte, subscriberBuffer)

	var mu sync.Mutex
	closed := false
	done := make(chan struct{})
	var once sync.Once
	var sub *nats.Subscription

	cancel := func() {
		once.Do(func() {
			close(done)
			if sub != nil {
				_ = sub.Unsubscribe()
			}
			mu.Lock()
			if !closed {
				closed = true
				close(out)
			}
			mu.Unlock()
		})
	}

	sub, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- m.Data:
		default:
			logging.L().Warn("Closing slow realtime subscriber", zap.String("topic", topic))
			closed = true
			close(out)
			go cancel()
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return out, cancel, nil
}

// Close drains the connection
func (b *NATSBroker) Close() error {
	return b.conn.Drain()
}
