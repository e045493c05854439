// Package realtime fans events out to connected clients. A Broker carries
// events between server instances; the Hub delivers them over websockets.
package realtime

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/Winger29/FSDP-Assignment2/internal/config"
)

// Broker is a topic based pub/sub transport
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe returns a channel of payloads and a cancel func that ends the
	// subscription and closes the channel
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error)

	Close() error
}

const subscriberBuffer = 64

// GroupTopic is the topic group chat events are published on
func GroupTopic(groupID uint) string {
	return fmt.Sprintf("group:%d", groupID)
}

// TaskTopic is the topic task execution events are published on
func TaskTopic(taskID uint) string {
	return fmt.Sprintf("task:%d", taskID)
}

// NewBroker builds the broker selected by BROKER. The redis client may be nil
// unless the redis broker is selected.
func NewBroker(cfg config.RealtimeConfig, rdb *redis.Client) (Broker, error) {
	switch cfg.Broker {
	case "", "local":
		return NewLocalBroker(), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis broker requires REDIS_URL")
		}
		return NewRedisBroker(rdb), nil
	case "nats":
		return NewNATSBroker(cfg.NATSURL)
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}
