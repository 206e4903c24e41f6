// ABOUTME: Tests for CLI helpers: config path resolution, config fallback and the color log handler
// ABOUTME: Uses t.Setenv so each case controls its own environment

package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/redub/internal/channel"
	"github.com/2389/redub/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("REDUB_CONFIG", "/etc/redub.toml")
		assert.Equal(t, "/etc/redub.toml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("REDUB_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "redub", "redub.yaml"), getConfigPath())
	})

	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("REDUB_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/tester")
		assert.Equal(t, filepath.Join("/home/tester", ".config", "redub", "redub.yaml"), getConfigPath())
	})
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("REDUB_CHANNEL_TIMEOUT", "3s")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Channel.Timeout)
	assert.True(t, cfg.Transports.Memory.Enabled)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "relay").WithGroup("peer").Info("peer connected", "id", "p1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF peer connected")
	assert.Contains(t, out, "component=relay")
	assert.Contains(t, out, "peer.id=p1")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.Debug("visible", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"visible"`)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}

func TestFormatMessage(t *testing.T) {
	color.NoColor = true

	m := channel.Message{
		ID:         "abcdefgh-1234",
		Payload:    "hello",
		ReceivedAt: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
	}
	assert.Equal(t, "15:04:05 abcdefgh hello\n", formatMessage(m))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefgh", shortID("abcdefgh-1234"))
	assert.Equal(t, "abc", shortID("abc"))
}
