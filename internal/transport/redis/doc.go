// Package redis provides a transport over Redis pub/sub.
//
// Every node publishes envelopes to one Redis channel (the topic) and
// receives everything published there, its own messages included. The
// channel's duplicate suppression collapses those echoes with copies that
// arrive over other transports.
//
// Connection settings are described by Config, whose fields can be populated
// from REDUB_-prefixed environment variables via github.com/caarlos0/env:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	t, err := redis.New(ctx, client, cfg.Topic, logger)
package redis
