package debug

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWriterFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, slog.LevelWarn, false)

	log.Info("hidden")
	log.Warn("connection lost", "device", "tracker")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "connection lost")
	assert.Contains(t, out, "device=tracker")
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")

	log, closer, err := New(Options{Level: "debug", File: path, JSON: true})
	require.NoError(t, err)
	log.Debug("tick", "dispatched", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dispatched":3`)
}
