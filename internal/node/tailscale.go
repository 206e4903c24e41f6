// ABOUTME: Optional tailnet listeners for the relay server via tsnet
// ABOUTME: Resolves state dir and auth key, brings the node up, and listens on the configured ports

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/redub/internal/config"
)

// resolveTailscaleStateDir returns the configured state dir or the default location.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return config.ExpandPath(configured), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set relay.tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "redub", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set relay.tailscale.auth_key or the TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// tailnetPort extracts the port a tailnet listener should bind from a host:port address.
func tailnetPort(addr string) (string, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", addr, err)
	}
	return ":" + port, nil
}

// listenTailscale starts a tsnet node and returns listeners for gRPC and HTTP.
// The caller owns the returned server and must Close it.
func listenTailscale(ctx context.Context, cfg config.RelayConfig, logger *slog.Logger) (*tsnet.Server, net.Listener, net.Listener, error) {
	tsCfg := cfg.Tailscale

	grpcPort, err := tailnetPort(cfg.GRPCAddr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("gRPC address: %w", err)
	}
	httpPort, err := tailnetPort(cfg.HTTPAddr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("HTTP address: %w", err)
	}

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, nil, err
	}

	ts := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := ts.Up(ctx)
	if err != nil {
		_ = ts.Close()
		return nil, nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	logTailscaleStatus(logger, tsCfg.Hostname, status)

	grpcLn, err := ts.Listen("tcp", grpcPort)
	if err != nil {
		_ = ts.Close()
		return nil, nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}
	httpLn, err := ts.Listen("tcp", httpPort)
	if err != nil {
		grpcLn.Close()
		_ = ts.Close()
		return nil, nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}

	return ts, grpcLn, httpLn, nil
}

func logTailscaleStatus(logger *slog.Logger, hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
