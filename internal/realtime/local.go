package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
)

// LocalBroker delivers messages within a single process. A subscriber whose
// buffer is full is closed rather than silently skipped, so consumers see the
// gap and can resubscribe.
type LocalBroker struct {
	mu     sync.Mutex
	topics map[string]map[*localSub]struct{}
}

type localSub struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *localSub) close() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// NewLocalBroker creates an in-process broker
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{topics: make(map[string]map[*localSub]struct{})}
}

// Publish delivers payload to every current subscriber of topic
func (b *LocalBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.topics[topic] {
		select {
		case s.ch <- payload:
		default:
			logging.L().Warn("Closing slow realtime subscriber", zap.String("topic", topic))
			b.remove(topic, s)
			s.close()
		}
	}
	return nil
}

// Subscribe registers a new subscriber on topic
func (b *LocalBroker) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	s := &localSub{ch: make(chan []byte, subscriberBuffer), done: make(chan struct{})}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*localSub]struct{})
	}
	b.topics[topic][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		b.remove(topic, s)
		b.mu.Unlock()
		s.close()
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-s.done:
		}
	}()

	return s.ch, cancel, nil
}

// remove must be called with mu held
func (b *LocalBroker) remove(topic string, s *localSub) {
	delete(b.topics[topic], s)
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// Close is a no-op
func (b *LocalBroker) Close() error {
	return nil
}
