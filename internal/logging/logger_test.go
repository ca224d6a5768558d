package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestInitWriter_JSONModuleLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	InitWriter(&buf, "INFO", "json")

	NewModuleLogger("core", "router").Info("routed", "route", "offline")
	NewModuleLogger("core", "router").Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "routed", entry["msg"])
	assert.Equal(t, "core", entry["module"])
	assert.Equal(t, "router", entry["component"])
	assert.Equal(t, "paklaw-assist", entry["service"])
}
