// ABOUTME: Relay server that rebroadcasts every envelope stream message to all connected peers
// ABOUTME: Tracks peers in a registry and exposes health endpoints over HTTP

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultPeerBuffer is the number of outbound messages queued per peer.
const DefaultPeerBuffer = 256

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPeerBuffer sets the per-peer outbound queue size.
func WithPeerBuffer(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithVerifier requires every stream to present a bearer token accepted by v.
func WithVerifier(v TokenVerifier) ServerOption {
	return func(s *Server) {
		s.verifier = v
	}
}

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID        string
	Principal string
}

type relayPeer struct {
	PeerInfo
	out chan *structpb.Struct
}

// Server relays envelopes between connected peers. Every valid message is
// sent to every peer, the sender included.
type Server struct {
	peers    map[string]*relayPeer
	mu       sync.RWMutex
	buffer   int
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewServer creates a relay with no peers.
func NewServer(logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		peers:  make(map[string]*relayPeer),
		buffer: DefaultPeerBuffer,
		logger: logger.With("component", "relay"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GRPCServer builds a grpc.Server with the relay service registered and,
// if a verifier is configured, the auth interceptor installed.
func (s *Server) GRPCServer(extra ...grpc.ServerOption) *grpc.Server {
	var opts []grpc.ServerOption
	if s.verifier != nil {
		opts = append(opts, grpc.ChainStreamInterceptor(StreamInterceptor(s.verifier, s.logger)))
	}
	opts = append(opts, extra...)

	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Register adds the relay service to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&serviceDesc, s)
}

// Peers returns the connected peers.
func (s *Server) Peers() []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p.PeerInfo)
	}
	return out
}

func (s *Server) register(p *relayPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers[p.ID] = p
	s.logger.Info("peer connected",
		"peer_id", p.ID,
		"principal", p.Principal,
		"total_peers", len(s.peers),
	)
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[id]; ok {
		delete(s.peers, id)
		s.logger.Info("peer disconnected",
			"peer_id", id,
			"total_peers", len(s.peers),
		)
	}
}

// broadcast queues msg for every peer. A peer whose queue is full misses it.
func (s *Server) broadcast(msg *structpb.Struct) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.peers {
		select {
		case p.out <- msg:
		default:
			s.logger.Warn("peer queue full, dropping message", "peer_id", p.ID)
		}
	}
}

// stream serves one peer until it hangs up.
func (s *Server) stream(ss grpc.ServerStream) error {
	p := &relayPeer{
		PeerInfo: PeerInfo{
			ID:        uuid.NewString(),
			Principal: PrincipalFromContext(ss.Context()),
		},
		out: make(chan *structpb.Struct, s.buffer),
	}
	s.register(p)
	defer s.unregister(p.ID)

	if err := ss.SendHeader(metadata.Pairs(peerIDHeader, p.ID)); err != nil {
		return fmt.Errorf("sending header: %w", err)
	}

	ctx, cancel := context.WithCancel(ss.Context())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.write(ctx, ss, p)
	}()
	// SendMsg must not be called after the handler returns
	defer func() {
		cancel()
		<-writerDone
	}()

	for {
		msg := new(structpb.Struct)
		if err := ss.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if _, err := fromStruct(msg); err != nil {
			s.logger.Warn("discarding malformed message", "peer_id", p.ID, "error", err)
			continue
		}
		s.broadcast(msg)
	}
}

func (s *Server) write(ctx context.Context, ss grpc.ServerStream, p *relayPeer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.out:
			if err := ss.SendMsg(msg); err != nil {
				s.logger.Debug("send to peer failed", "peer_id", p.ID, "error", err)
				return
			}
		}
	}
}

// HTTPHandler serves /health and /health/ready.
func (s *Server) HTTPHandler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	return r
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one peer is connected.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	n := len(s.Peers())
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no peers connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d peers)", n)
}
