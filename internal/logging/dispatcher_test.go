package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookie-ar/markerscene/internal/dispatcher"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*DispatcherLogger)
		level string
		msg   string
		attrs map[string]any
	}{
		{
			name:  "debug",
			log:   func(l *DispatcherLogger) { l.Debug("activation queued", "markerId", "poster", "attempt", 2) },
			level: "DEBUG",
			msg:   "activation queued",
			attrs: map[string]any{"markerId": "poster", "attempt": float64(2)},
		},
		{
			name:  "info",
			log:   func(l *DispatcherLogger) { l.Info("command registered", "command", ":ACTIVATE:") },
			level: "INFO",
			msg:   "command registered",
			attrs: map[string]any{"command": ":ACTIVATE:"},
		},
		{
			name:  "error",
			log:   func(l *DispatcherLogger) { l.Error("handler panicked", "command", ":TRACKING:") },
			level: "ERROR",
			msg:   "handler panicked",
			attrs: map[string]any{"command": ":TRACKING:"},
		},
		{
			name:  "no attributes",
			log:   func(l *DispatcherLogger) { l.Info("ready") },
			level: "INFO",
			msg:   "ready",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
			tt.log(l)

			entries := decodeLines(t, &buf)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0]["level"])
			assert.Equal(t, tt.msg, entries[0]["msg"])
			for k, v := range tt.attrs {
				assert.Equal(t, v, entries[0][k], k)
			}
		})
	}
}

func TestDispatcherLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})))

	l.Debug("hidden")
	l.Info("hidden")
	l.Error("shown")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["msg"])
}

func TestDispatcherLogger_WithDispatcher(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	var _ dispatcher.Logger = l
	d, err := dispatcher.New(l)
	require.NoError(t, err)
	defer d.Close()

	d.Register(":ACTIVATE:", func(dispatcher.Event) (any, error) {
		return nil, errors.New("backendBase is empty")
	}, dispatcher.Logged())

	_, err = d.Dispatch(dispatcher.Event{Command: ":ACTIVATE:"})
	require.Error(t, err)

	var failed map[string]any
	for _, e := range decodeLines(t, &buf) {
		if e["msg"] == "event failed" {
			failed = e
		}
	}
	require.NotNil(t, failed, "dispatcher failure not logged through the adapter")
	assert.Equal(t, "ERROR", failed["level"])
	assert.Equal(t, ":ACTIVATE:", failed["command"])
	assert.Equal(t, "backendBase is empty", failed["error"])
}
