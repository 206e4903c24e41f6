// Package node turns a config.Config into running components.
//
// New opens each enabled transport (memory loopback, Redis pub/sub, one
// relay client per relay address, SQLite mailbox) and builds a channel over
// them with the configured dedup window, cache cap and subscriber buffer.
// Close ends the channel and closes the transports.
//
// RelayServer runs the relay gRPC service and its /health endpoints on the
// addresses in the relay section, with JWT auth when a secret is configured.
package node
