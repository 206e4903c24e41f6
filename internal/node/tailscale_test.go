// ABOUTME: Tests for tailnet listener helpers that do not need a live tailnet
// ABOUTME: Covers state dir and auth key resolution and port extraction

package node

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/redub/internal/config"
)

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/redub/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/redub/ts", dir)

	t.Setenv("HOME", "/home/tester")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".local", "share", "redub", "tailscale"), dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	require.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestTailnetPort(t *testing.T) {
	port, err := tailnetPort("0.0.0.0:50061")
	require.NoError(t, err)
	assert.Equal(t, ":50061", port)

	_, err = tailnetPort("no-port")
	require.Error(t, err)
}

func TestRelayServer_TailscaleWithoutAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")

	cfg := config.Default().Relay
	cfg.Tailscale.Enabled = true
	cfg.Tailscale.StateDir = t.TempDir()

	err := NewRelayServer(cfg, nil).Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth key required")
}
