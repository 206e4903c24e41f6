// ABOUTME: Relay client transport holding one bidirectional stream to a relay server
// ABOUTME: Ready while the stream is open; inbound messages are dispatched to subscribers

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/redub/internal/envelope"
	"github.com/2389/redub/internal/transport"
)

// ErrStreamRejected is returned by Dial when the relay ends the stream
// before accepting it.
var ErrStreamRejected = errors.New("relay rejected stream")

type clientOptions struct {
	token    string
	dialOpts []grpc.DialOption
	logger   *slog.Logger
}

// ClientOption configures Dial.
type ClientOption func(*clientOptions)

// WithToken sends token as a bearer credential.
func WithToken(token string) ClientOption {
	return func(o *clientOptions) {
		o.token = token
	}
}

// WithDialOptions appends gRPC dial options. Transport credentials default to insecure.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(o *clientOptions) {
		o.dialOpts = append(o.dialOpts, opts...)
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// Client is a transport connected to a relay server.
type Client struct {
	target   string
	peerID   string
	conn     *grpc.ClientConn
	stream   grpc.ClientStream
	cancel   context.CancelFunc
	handlers transport.Handlers
	ready    atomic.Bool
	sendMu   sync.Mutex
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a stream to the relay at target. It returns once the relay has
// accepted the stream, so authentication failures surface here.
func Dial(ctx context.Context, target string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, o.dialOpts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating relay client: %w", err)
	}

	// The stream outlives ctx, which only bounds the handshake
	streamCtx, cancel := context.WithCancel(context.Background())
	if o.token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+o.token)
	}

	fail := func(err error) (*Client, error) {
		cancel()
		_ = conn.Close()
		return nil, err
	}

	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], streamMethod)
	if err != nil {
		return fail(fmt.Errorf("opening relay stream: %w", err))
	}

	type headerResult struct {
		md  metadata.MD
		err error
	}
	hdr := make(chan headerResult, 1)
	go func() {
		md, err := stream.Header()
		hdr <- headerResult{md, err}
	}()

	var md metadata.MD
	select {
	case res := <-hdr:
		if res.err != nil {
			return fail(res.err)
		}
		if res.md == nil {
			// The stream ended without headers; the status is on RecvMsg.
			err := stream.RecvMsg(new(structpb.Struct))
			if err == nil || errors.Is(err, io.EOF) {
				err = ErrStreamRejected
			}
			return fail(err)
		}
		md = res.md
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	c := &Client{
		target: target,
		conn:   conn,
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if ids := md.Get(peerIDHeader); len(ids) > 0 {
		c.peerID = ids[0]
	}
	c.logger = o.logger.With("component", "relay-client", "target", target, "peer_id", c.peerID)
	c.ready.Store(true)
	go c.receive()

	c.logger.Info("connected to relay")
	return c, nil
}

func (c *Client) receive() {
	defer close(c.done)
	defer c.ready.Store(false)

	for {
		msg := new(structpb.Struct)
		if err := c.stream.RecvMsg(msg); err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				c.logger.Warn("relay stream ended", "error", err)
			}
			return
		}
		env, err := fromStruct(msg)
		if err != nil {
			c.logger.Warn("discarding malformed message", "error", err)
			continue
		}
		c.handlers.Dispatch(env)
	}
}

// String implements fmt.Stringer.
func (c *Client) String() string {
	return "relay:" + c.target
}

// PeerID returns the ID the relay assigned to this stream.
func (c *Client) PeerID() string {
	return c.peerID
}

// Ready reports whether the stream is open.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// Send writes env to the relay.
func (c *Client) Send(ctx context.Context, env envelope.Envelope) error {
	if !c.ready.Load() {
		return transport.ErrClosed
	}
	msg, err := toStruct(env)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.SendMsg(msg); err != nil {
		return fmt.Errorf("sending %s: %w", env.ID, err)
	}
	return nil
}

// Subscribe registers h for inbound envelopes.
func (c *Client) Subscribe(h envelope.Handler) func() {
	return c.handlers.Subscribe(h)
}

// Close ends the stream and closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.ready.Store(false)

		c.sendMu.Lock()
		_ = c.stream.CloseSend()
		c.sendMu.Unlock()

		c.cancel()
		<-c.done
		err = c.conn.Close()
		c.logger.Info("disconnected from relay")
	})
	return err
}
