// ABOUTME: gRPC service descriptor for the relay's bidirectional envelope stream
// ABOUTME: Envelopes travel as google.protobuf.Struct messages with id and payload fields

package relay

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/redub/internal/envelope"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "redub.relay.v1.Relay"

const (
	streamMethod = "/" + ServiceName + "/Stream"

	fieldID      = "id"
	fieldPayload = "payload"

	// peerIDHeader carries the server-assigned peer ID in the response header.
	peerIDHeader = "redub-peer-id"
)

// streamer is implemented by Server.
type streamer interface {
	stream(grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*streamer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "redub/relay/v1/relay.proto",
}

func streamHandler(srv any, ss grpc.ServerStream) error {
	return srv.(streamer).stream(ss)
}

// toStruct converts env to its wire form. The payload is normalized through
// JSON first so any JSON-encodable value is accepted.
func toStruct(env envelope.Envelope) (*structpb.Struct, error) {
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing id", envelope.ErrInvalidEnvelope)
	}

	data, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("normalizing payload: %w", err)
	}
	payload, err := structpb.NewValue(normalized)
	if err != nil {
		return nil, fmt.Errorf("converting payload: %w", err)
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			fieldID:      structpb.NewStringValue(env.ID),
			fieldPayload: payload,
		},
	}, nil
}

// fromStruct converts a wire message back into an envelope.
func fromStruct(msg *structpb.Struct) (envelope.Envelope, error) {
	fields := msg.GetFields()
	id := fields[fieldID].GetStringValue()
	if id == "" {
		return envelope.Envelope{}, fmt.Errorf("%w: missing id", envelope.ErrInvalidEnvelope)
	}

	var payload any
	if v, ok := fields[fieldPayload]; ok {
		payload = v.AsInterface()
	}
	return envelope.Envelope{ID: id, Payload: payload}, nil
}
