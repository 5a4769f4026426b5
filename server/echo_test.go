package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEcho(t *testing.T) (*Echo, *httptest.Server) {
	t.Helper()
	echo := NewEcho(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(echo.Handler())
	t.Cleanup(srv.Close)
	return echo, srv
}

func dialEcho(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestEchoGreetsAndEchoesAudio(t *testing.T) {
	_, srv := newTestEcho(t)
	conn := dialEcho(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"voice_prompt":"NATF2.pt"}`)))

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Contains(t, string(data), `"text"`)
	assert.Contains(t, string(data), "NATF2")

	pcm := bytes.Repeat([]byte{0x01, 0x02}, 1920)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcm))

	msgType, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, pcm, data)
}

func TestEchoRejectsAudioBeforeConfig(t *testing.T) {
	_, srv := newTestEcho(t)
	conn := dialEcho(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 3840)))

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Contains(t, string(data), `"error"`)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestEchoRejectsConfigWithoutVoice(t *testing.T) {
	_, srv := newTestEcho(t)
	conn := dialEcho(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text_prompt":"hi"}`)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "voice_prompt is required")
}

func TestEchoHealth(t *testing.T) {
	_, srv := newTestEcho(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, string(body))
}
