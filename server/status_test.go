package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/duplexvoice/metrics"
	"github.com/room4-2/duplexvoice/session"
)

type fakeSession struct {
	result session.Result
	state  session.State
}

func (f fakeSession) Snapshot() session.Result { return f.result }
func (f fakeSession) State() session.State     { return f.state }

func get(t *testing.T, h http.Handler, path string) (int, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, body
}

func TestStatusWithoutSession(t *testing.T) {
	s := NewStatus(":0", prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	code, body := get(t, s.Handler(), "/status")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(body), "no active session")

	code, body = get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"session_state":"none"`)
}

func TestStatusReportsSnapshot(t *testing.T) {
	s := NewStatus(":0", prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.SetSource(fakeSession{
		state: session.Streaming,
		result: session.Result{
			SessionID:  "abc",
			Status:     session.StatusConnected,
			Voice:      "NATF2",
			ChunksSent: 12,
		},
	})

	code, body := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, code)

	var got struct {
		State   string         `json:"state"`
		Session session.Result `json:"session"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "streaming", got.State)
	assert.Equal(t, session.StatusConnected, got.Session.Status)
	assert.Equal(t, uint64(12), got.Session.ChunksSent)
}

func TestStatusServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ChunkSent(3840)

	s := NewStatus(":0", reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	code, body := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "duplexvoice_chunks_sent_total 1")
	assert.Contains(t, string(body), "duplexvoice_bytes_sent_total 3840")
}

type fakeLister []string

func (f fakeLister) ActiveSessions(context.Context) ([]string, error) { return f, nil }

func TestStatusListsRegistrySessions(t *testing.T) {
	s := NewStatus(":0", prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.SetSource(fakeSession{state: session.Streaming, result: session.Result{SessionID: "abc"}})
	s.SetRegistry(fakeLister{"abc", "def"})

	code, body := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, code)

	var got struct {
		ActiveSessions []string `json:"active_sessions"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, []string{"abc", "def"}, got.ActiveSessions)
}
