// ABOUTME: Transport capability consumed by the channel and optional readiness check
// ABOUTME: Concrete transports live under internal/transport and are never owned by the channel

package channel

import (
	"context"
	"fmt"

	"github.com/2389/redub/internal/envelope"
)

// Transport is anything that can carry envelopes.
// Implementations must be comparable (normally a pointer): the channel
// identifies transports with ==, and Add skips values of other types.
type Transport interface {
	// Send delivers env. It is fire-and-forget from the channel's point of
	// view: a returned error is logged and counted, never retried.
	Send(ctx context.Context, env envelope.Envelope) error

	// Subscribe registers h for inbound envelopes and returns a func that
	// removes it.
	Subscribe(h envelope.Handler) (unsubscribe func())
}

// Readier is implemented by transports that can be temporarily unable to
// send. Transports without it are always considered ready.
type Readier interface {
	Ready() bool
}

func isReady(t Transport) bool {
	r, ok := t.(Readier)
	return !ok || r.Ready()
}

func transportName(t Transport) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", t)
}
