// ABOUTME: Runs the relay's gRPC server and HTTP health endpoints from a Config
// ABOUTME: Handles listener setup, serving, and graceful shutdown

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"tailscale.com/tsnet"

	"github.com/2389/redub/internal/config"
	"github.com/2389/redub/internal/transport/relay"
)

// RelayServer is the process behind `redub relay`.
type RelayServer struct {
	relay      *relay.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	tsnet      *tsnet.Server
	cfg        config.RelayConfig
	logger     *slog.Logger
}

// NewRelayServer builds the relay. JWT auth is enabled when a secret is set.
func NewRelayServer(cfg config.RelayConfig, logger *slog.Logger) *RelayServer {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []relay.ServerOption
	if cfg.JWTSecret != "" {
		opts = append(opts, relay.WithVerifier(relay.NewJWTVerifier([]byte(cfg.JWTSecret))))
		logger.Info("relay authentication enabled")
	} else {
		logger.Warn("relay authentication disabled (no jwt_secret)")
	}

	srv := relay.NewServer(logger, opts...)
	return &RelayServer{
		relay:      srv,
		grpcServer: srv.GRPCServer(),
		httpServer: &http.Server{
			Handler:           srv.HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		cfg:    cfg,
		logger: logger.With("component", "relay-server"),
	}
}

// Relay returns the underlying relay.
func (s *RelayServer) Relay() *relay.Server {
	return s.relay
}

// Run listens on the configured addresses, or on the tailnet when tailscale
// is enabled, and serves until ctx is canceled.
func (s *RelayServer) Run(ctx context.Context) error {
	if s.cfg.Tailscale.Enabled {
		ts, grpcLn, httpLn, err := listenTailscale(ctx, s.cfg, s.logger)
		if err != nil {
			return fmt.Errorf("setting up tailscale: %w", err)
		}
		s.tsnet = ts
		return s.Serve(ctx, grpcLn, httpLn)
	}

	var lc net.ListenConfig
	grpcLn, err := lc.Listen(ctx, "tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listening on gRPC address: %w", err)
	}
	httpLn, err := lc.Listen(ctx, "tcp", s.cfg.HTTPAddr)
	if err != nil {
		grpcLn.Close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, grpcLn, httpLn)
}

// Serve serves on the given listeners until ctx is canceled or a server fails.
func (s *RelayServer) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := s.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops both servers. Open relay streams are cut when ctx expires.
func (s *RelayServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down relay")

	err := s.httpServer.Shutdown(ctx)

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}

	if s.tsnet != nil {
		if tsErr := s.tsnet.Close(); tsErr != nil {
			s.logger.Warn("closing tailscale node", "error", tsErr)
		}
	}

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}
