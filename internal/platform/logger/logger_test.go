package logger

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
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

// TestNewWritesJSON expects one JSON object per line when not writing to a terminal, and that
// records below the level are dropped.
func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", &buf)

	log.Info("not written")
	log.Warn("contact lookup slow", "phone_number", "0544605039")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "contact lookup slow", record["msg"])
	assert.Equal(t, "0544605039", record["phone_number"])
}
