// ABOUTME: Redis pub/sub transport publishing and receiving JSON envelopes on one topic
// ABOUTME: Ready from subscription confirmation until Close or the subscription drops

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/2389/redub/internal/envelope"
	"github.com/2389/redub/internal/transport"
)

// Transport publishes envelopes to a Redis channel and emits every envelope
// published there, its own included.
type Transport struct {
	client   *goredis.Client
	topic    string
	pubsub   *goredis.PubSub
	handlers transport.Handlers
	ready    atomic.Bool
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New subscribes to topic and starts the receive loop. It returns once Redis
// has confirmed the subscription. The client is not closed by Close.
func New(ctx context.Context, client *goredis.Client, topic string, logger *slog.Logger) (*Transport, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	t := &Transport{
		client: client,
		topic:  topic,
		pubsub: pubsub,
		logger: logger.With("component", "redis-transport", "topic", topic),
		done:   make(chan struct{}),
	}
	t.ready.Store(true)
	go t.receive()

	t.logger.Info("redis transport subscribed")
	return t, nil
}

// receive dispatches messages until the subscription is closed.
func (t *Transport) receive() {
	defer close(t.done)
	defer t.ready.Store(false)

	for msg := range t.pubsub.Channel() {
		env, err := envelope.Decode([]byte(msg.Payload))
		if err != nil {
			t.logger.Warn("discarding malformed envelope", "error", err)
			continue
		}
		t.handlers.Dispatch(env)
	}
}

// String implements fmt.Stringer.
func (t *Transport) String() string {
	return "redis:" + t.topic
}

// Ready reports whether the subscription is live.
func (t *Transport) Ready() bool {
	return t.ready.Load()
}

// Send publishes env on the topic.
func (t *Transport) Send(ctx context.Context, env envelope.Envelope) error {
	if !t.ready.Load() {
		return transport.ErrClosed
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, t.topic, data).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", env.ID, err)
	}
	return nil
}

// Subscribe registers h for inbound envelopes.
func (t *Transport) Subscribe(h envelope.Handler) func() {
	return t.handlers.Subscribe(h)
}

// Close unsubscribes and waits for the receive loop to exit.
// It is safe to call multiple times.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.ready.Store(false)
		err = t.pubsub.Close()
		<-t.done
		t.logger.Info("redis transport closed")
	})
	return err
}
