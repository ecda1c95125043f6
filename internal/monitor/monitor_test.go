package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	st  orchestrator.Status
	err error
}

func (f fakeStatus) Status(context.Context) (orchestrator.Status, error) { return f.st, f.err }

type fakeCommands []string

func (f fakeCommands) Commands() []string { return f }

type fakeBackend struct{ err error }

func (f fakeBackend) Healthcheck(context.Context) error { return f.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name    string
		backend HealthChecker
		code    int
		status  string
	}{
		{"no backend", nil, http.StatusOK, "ok"},
		{"healthy", fakeBackend{}, http.StatusOK, "ok"},
		{"unreachable", fakeBackend{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(Dependencies{Backend: tt.backend})
			rec := get(t, s.Handler(), "/healthz")
			assert.Equal(t, tt.code, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestStatus(t *testing.T) {
	s := NewService(Dependencies{
		Status: fakeStatus{st: orchestrator.Status{
			State:        orchestrator.StateSteady,
			ActivationID: "act-1",
			MarkerID:     "poster",
			Spawned:      map[string]engine.NodeID{"chair": 4},
		}},
		Commands: fakeCommands{":ACTIVATE:", ":VERSION:"},
		Version:  "1.2.3",
	})

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Version  string         `json:"version"`
		Commands []string       `json:"commands"`
		Status   map[string]any `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, []string{":ACTIVATE:", ":VERSION:"}, body.Commands)
	assert.Equal(t, "steady", body.Status["state"])
	assert.Equal(t, "act-1", body.Status["activationId"])
	assert.Equal(t, map[string]any{"chair": float64(4)}, body.Status["spawned"])
}

func TestStatus_SourceError(t *testing.T) {
	s := NewService(Dependencies{Status: fakeStatus{err: orchestrator.ErrClosed}})
	rec := get(t, s.Handler(), "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "orchestrator closed")
}

func TestUnknownRoute(t *testing.T) {
	s := NewService(Dependencies{})
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/metrics").Code)
}

func TestStartStop(t *testing.T) {
	s := NewService(Dependencies{})
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Start(""))

	require.NoError(t, s.Start("127.0.0.1:0"))
	assert.True(t, s.IsRunning())
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Stop(context.Background()))
}
