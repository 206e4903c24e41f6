// ABOUTME: Assembles a channel and its configured transports from a Config
// ABOUTME: Owns the transports and closes them together on shutdown

package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/2389/redub/internal/channel"
	"github.com/2389/redub/internal/config"
	"github.com/2389/redub/internal/observability"
	"github.com/2389/redub/internal/transport/memory"
	"github.com/2389/redub/internal/transport/redis"
	"github.com/2389/redub/internal/transport/relay"
	"github.com/2389/redub/internal/transport/sqlite"
)

// ErrNoTransports indicates the configuration enables no transport.
var ErrNoTransports = errors.New("no transports enabled")

// Node is a channel wired to the transports named in its configuration.
type Node struct {
	Channel *channel.Channel

	closers []namedCloser
	logger  *slog.Logger
}

type namedCloser struct {
	label string
	c     io.Closer
}

// New opens every enabled transport and builds the channel over them.
// If any transport fails to open, the ones already opened are closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{logger: logger.With("component", "node")}

	transports, err := n.openTransports(ctx, cfg, logger)
	if err != nil {
		_ = n.closeAll()
		return nil, err
	}
	if len(transports) == 0 {
		return nil, ErrNoTransports
	}

	var recorder observability.Recorder = observability.NoopMetrics{}
	if cfg.Metrics.Enabled {
		recorder = observability.NewRecorder()
	}

	n.Channel = channel.New(transports,
		channel.WithTimeout(cfg.Channel.Timeout),
		channel.WithMaxEntries(cfg.Channel.MaxEntries),
		channel.WithSubscriberBuffer(cfg.Channel.SubscriberBuffer),
		channel.WithLogger(logger),
		channel.WithMetrics(recorder),
	)

	n.logger.Info("node ready", "transports", len(transports), "timeout", cfg.Channel.Timeout)
	return n, nil
}

func (n *Node) track(label string, c io.Closer) {
	n.closers = append(n.closers, namedCloser{label: label, c: c})
}

func (n *Node) openTransports(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]channel.Transport, error) {
	var out []channel.Transport
	tc := cfg.Transports

	if tc.Memory.Enabled {
		t := memory.New("loopback")
		n.track(t.String(), t)
		out = append(out, t)
	}

	if tc.Redis.Enabled {
		client, err := redis.Connect(ctx, redis.Config{
			ConnectionURL:  tc.Redis.URL,
			Topic:          tc.Redis.Topic,
			RetryAttempts:  tc.Redis.RetryAttempts,
			RetryInterval:  tc.Redis.RetryInterval,
			ConnectTimeout: tc.Redis.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		n.track("redis client", client)

		t, err := redis.New(ctx, client, tc.Redis.Topic, logger)
		if err != nil {
			return nil, fmt.Errorf("subscribing to redis: %w", err)
		}
		n.track(t.String(), t)
		out = append(out, t)
	}

	if tc.Relay.Enabled {
		for _, addr := range tc.Relay.Addrs {
			opts := []relay.ClientOption{relay.WithClientLogger(logger)}
			if tc.Relay.Token != "" {
				opts = append(opts, relay.WithToken(tc.Relay.Token))
			}
			c, err := relay.Dial(ctx, addr, opts...)
			if err != nil {
				return nil, fmt.Errorf("dialing relay %s: %w", addr, err)
			}
			n.track(c.String(), c)
			out = append(out, c)
		}
	}

	if tc.SQLite.Enabled {
		t, err := sqlite.Open(config.ExpandPath(tc.SQLite.Path),
			sqlite.WithPollInterval(tc.SQLite.PollInterval),
			sqlite.WithRetention(tc.SQLite.Retention),
			sqlite.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite mailbox: %w", err)
		}
		n.track(t.String(), t)
		out = append(out, t)
	}

	return out, nil
}

// Close ends the channel, then closes transports in reverse order of opening.
func (n *Node) Close() error {
	if n.Channel != nil {
		n.Channel.End()
	}
	return n.closeAll()
}

func (n *Node) closeAll() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		nc := n.closers[i]
		if err := nc.c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nc.label, err))
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
