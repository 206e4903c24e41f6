// Package relay provides a gRPC relay server and the client transport that
// connects to it.
//
// A relay is a hub: every envelope a peer sends over its stream is forwarded
// to every connected peer, the sender included. Nodes that connect to two or
// more relays get redundant delivery paths, and the channel collapses the
// copies by envelope ID.
//
// # Wire format
//
// The service is redub.relay.v1.Relay with a single bidirectional method,
// Stream. Each message is a google.protobuf.Struct with two fields: "id"
// (string) and "payload" (any JSON value). Messages without an id are
// discarded by both ends.
//
// # Authentication
//
// A server built with WithVerifier requires an "authorization: Bearer <jwt>"
// header on every stream. Tokens are HS256 with the peer's principal in the
// sub claim; JWTVerifier.Generate mints them. Dial returns the
// Unauthenticated status when the relay refuses the token.
//
// # Health
//
// Server.HTTPHandler serves /health (always 200) and /health/ready (200 once
// at least one peer is connected, 503 otherwise).
package relay
