package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "rewardd", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("claimed", "stream", "yield")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "claimed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "rewardd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "yield", line["stream"])
	require.Contains(t, line, "timestamp")
}

func TestSetupWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewardd.log")
	logger, closer := Setup("rewardd", "", Options{Level: slog.LevelDebug, File: &FileOptions{Path: path, MaxSizeMB: 1}})
	logger.Debug("snapshot saved")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "snapshot saved")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("dsn", "postgres://user:pw@db").Value.String())
	require.Equal(t, "yield", MaskField("component", "yield").Value.String())
	require.Empty(t, MaskField("audit_dsn", "").Value.String())
	require.True(t, IsAllowlisted(" Stream "))
	require.False(t, IsAllowlisted("hmac_secret"))
}
