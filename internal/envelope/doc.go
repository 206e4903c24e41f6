// Package envelope defines the id/payload pair that crosses the transport
// boundary and the id generators used to stamp outbound messages.
//
// The default generator is UUIDGenerator. Fixed and Sequence exist for tests
// and for callers with their own uniqueness scheme:
//
//	ch := channel.New(nil, channel.WithIDGenerator(envelope.Sequence("node-a")))
//
// Byte-oriented transports (Redis, SQLite) use Encode and Decode, which frame
// an envelope as {"id": "...", "payload": ...}.
package envelope
