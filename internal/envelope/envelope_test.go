// ABOUTME: Tests for envelope wrapping, id generators, and wire encoding
// ABOUTME: Covers uuid uniqueness, deterministic generators, and malformed frames

package envelope

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDGenerator_Version4(t *testing.T) {
	id := UUIDGenerator("payload")

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestUUIDGenerator_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := UUIDGenerator(nil)
		_, dup := seen[id]
		require.False(t, dup, "generated duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestWrap_UsesGeneratorWithPayload(t *testing.T) {
	var got any
	gen := func(payload any) string {
		got = payload
		return "id-1"
	}

	env := Wrap(gen, "bla")

	assert.Equal(t, "id-1", env.ID)
	assert.Equal(t, "bla", env.Payload)
	assert.Equal(t, "bla", got, "generator should see the payload")
}

func TestFixed(t *testing.T) {
	gen := Fixed("foobar")
	assert.Equal(t, "foobar", gen("a"))
	assert.Equal(t, "foobar", gen("b"))
}

func TestSequence_Concurrent(t *testing.T) {
	gen := Sequence("node")

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ids <- gen(nil)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Contains(t, seen, "node-1")
	assert.Contains(t, seen, "node-200")
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(Envelope{ID: "abc", Payload: map[string]any{"text": "hi", "n": 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc","payload":{"text":"hi","n":3}}`, string(data))

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "abc", env.ID)
	assert.Equal(t, map[string]any{"text": "hi", "n": float64(3)}, env.Payload)
}

func TestEncode_MissingID(t *testing.T) {
	_, err := Encode(Envelope{Payload: "x"})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "garbage"},
		{"missing id", `{"payload":"x"}`},
		{"empty id", `{"id":"","payload":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}
