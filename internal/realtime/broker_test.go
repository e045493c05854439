package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Winger29/FSDP-Assignment2/internal/config"
)

func TestLocalBrokerPublishSubscribe(t *testing.T) {
	b := NewLocalBroker()
	ctx := context.Background()

	ch1, cancel1, err := b.Subscribe(ctx, "group:1")
	require.NoError(t, err)
	ch2, cancel2, err := b.Subscribe(ctx, "group:1")
	require.NoError(t, err)
	other, cancelOther, err := b.Subscribe(ctx, "group:2")
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, b.Publish(ctx, "group:1", []byte("hello")))

	assert.Equal(t, []byte("hello"), <-ch1)
	assert.Equal(t, []byte("hello"), <-ch2)
	select {
	case <-other:
		t.Fatal("message leaked to another topic")
	default:
	}

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open, "cancel closes the channel")

	cancel2()
	assert.Empty(t, b.topics["group:1"])
}

func TestLocalBrokerContextCancel(t *testing.T) {
	b := NewLocalBroker()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _, err := b.Subscribe(ctx, "task:9")
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
}

func TestLocalBrokerClosesSlowSubscriber(t *testing.T) {
	b := NewLocalBroker()
	ctx := context.Background()
	slow, cancel, err := b.Subscribe(ctx, "task:1")
	require.NoError(t, err)
	defer cancel()
	fast, cancelFast, err := b.Subscribe(ctx, "task:1")
	require.NoError(t, err)
	defer cancelFast()

	for i := 0; i <= subscriberBuffer; i++ {
		require.NoError(t, b.Publish(ctx, "task:1", []byte("x")))
		<-fast
	}

	received := 0
	for range slow {
		received++
	}
	assert.Equal(t, subscriberBuffer, received, "buffered events are still delivered before the close")

	require.NoError(t, b.Publish(ctx, "task:1", []byte("terminal")))
	assert.Equal(t, []byte("terminal"), <-fast)
	assert.Len(t, b.topics["task:1"], 1)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "group:7", GroupTopic(7))
	assert.Equal(t, "task:3", TaskTopic(3))
}

func TestNewBrokerSelection(t *testing.T) {
	b, err := NewBroker(config.RealtimeConfig{Broker: "local"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalBroker{}, b)

	_, err = NewBroker(config.RealtimeConfig{Broker: "redis"}, nil)
	assert.Error(t, err)

	_, err = NewBroker(config.RealtimeConfig{Broker: "kafka"}, nil)
	assert.Error(t, err)
}
