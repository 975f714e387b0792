package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "treasuryd", "test", slog.LevelInfo)
	logger.Info("started", "network", "localnet")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "started", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "treasuryd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "treasuryd", "", slog.LevelInfo)
	logger.Info("auth", "token", "eyJhbGciOi", "passphrase", "")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["token"])
	require.Equal(t, "", line["passphrase"])
	require.NotContains(t, line, "env")
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "treasuryd", "", ParseLevel("warn"))
	logger.Info("quiet")
	require.Zero(t, buf.Len())
	logger.Warn("loud")
	require.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetupWithFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treasuryd.log")
	logger := SetupWithOptions("treasuryd", "", Options{File: path, MaxSizeMB: 1})
	logger.Info("persisted")
	require.FileExists(t, path)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("subject", "dao1xyz").Value.String())
	require.Equal(t, "dao1xyz", MaskField("address", "dao1xyz").Value.String())
	require.Equal(t, " ", MaskField("subject", " ").Value.String())
	require.Contains(t, RedactionAllowlist(), "outcome")
	require.True(t, IsSensitive("Authorization"))
}
