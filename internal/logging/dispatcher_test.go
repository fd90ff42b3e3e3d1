package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*DispatcherLogger)
		level string
	}{
		{"debug", func(l *DispatcherLogger) { l.Debug("handling event", "command", "scenario.start") }, "debug"},
		{"info", func(l *DispatcherLogger) { l.Info("handler registered", "command", "demo.stopAll") }, "info"},
		{"error", func(l *DispatcherLogger) { l.Error("event failed", "command", "bus.start") }, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.NotEmpty(t, entry["command"])
		})
	}
}

func TestDispatcherLogger_TypedFields(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Error("event failed",
		"command", "scenario.start",
		"args", 1,
		"duration", 1500*time.Millisecond,
		"error", errors.New("unknown scenario: NOPE"),
		"source", []string{"10.0.0.7"},
	)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "event failed", entry["message"])
	assert.Equal(t, "scenario.start", entry["command"])
	assert.Equal(t, float64(1), entry["args"])
	assert.Equal(t, float64(1500), entry["duration"])
	assert.Equal(t, "unknown scenario: NOPE", entry["error"])
	assert.Equal(t, []any{"10.0.0.7"}, entry["source"])
}

func TestDispatcherLogger_MalformedPairs(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Info("queued", "a", 1, 2, "b", "dangling")

	entry := decodeLine(t, &buf)
	assert.Equal(t, float64(1), entry["a"])
	assert.Equal(t, "dangling", entry["!BADKEY"])
	assert.NotContains(t, entry, "b")
}

func TestDispatcherLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("hidden", "command", "bus.start")
	assert.Empty(t, buf.String())
}
