// ABOUTME: Envelope pairs a message id with an opaque payload exchanged with transports
// ABOUTME: Provides pluggable id generators, wrapping, and the JSON wire encoding

package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrInvalidEnvelope indicates a wire frame that could not be turned into an Envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the unit exchanged with transports.
// It is created fresh for every outbound send and never mutated afterwards.
type Envelope struct {
	ID      string `json:"id"`
	Payload any    `json:"payload"`
}

// Handler receives inbound envelopes from a transport.
type Handler func(Envelope)

// IDGenerator produces the identifier for an outbound payload.
// Deduplication is only as good as the generator: two distinct messages that
// share an id are treated as one.
type IDGenerator func(payload any) string

// UUIDGenerator returns a random version-4 UUID regardless of payload.
func UUIDGenerator(_ any) string {
	return uuid.NewString()
}

// Fixed returns a generator that always yields id. Every payload after the
// first is suppressed as a duplicate while the id is remembered.
func Fixed(id string) IDGenerator {
	return func(_ any) string { return id }
}

// Sequence returns a deterministic generator producing prefix-1, prefix-2, ...
// It is safe for concurrent use.
func Sequence(prefix string) IDGenerator {
	var n atomic.Uint64
	return func(_ any) string {
		return prefix + "-" + strconv.FormatUint(n.Add(1), 10)
	}
}

// Wrap combines a freshly generated id with payload.
func Wrap(gen IDGenerator, payload any) Envelope {
	return Envelope{ID: gen(payload), Payload: payload}
}

// Encode serializes env for byte-oriented transports.
func Encode(env Envelope) ([]byte, error) {
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidEnvelope)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope %s: %w", env.ID, err)
	}
	return data, nil
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.ID == "" {
		return Envelope{}, fmt.Errorf("%w: missing id", ErrInvalidEnvelope)
	}
	return env, nil
}
