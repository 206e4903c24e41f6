// Package transport holds the pieces shared by the concrete transports in its
// subpackages:
//
//   - memory: in-process transport with configurable delay, for tests and demos
//   - redis:  Redis pub/sub on one topic
//   - relay:  gRPC fan-out relay server and client transport
//   - sqlite: shared-file mailbox polled by every process on a host
//
// Every transport satisfies channel.Transport: Send(ctx, envelope) and
// Subscribe(handler) returning an unsubscribe func. Transports that can be
// temporarily unavailable also implement Ready() bool.
package transport
