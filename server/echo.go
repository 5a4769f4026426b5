// Package server holds the HTTP side of duplexvoice: a local echo peer that
// speaks the session protocol, and the status endpoint a running client
// exposes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/duplexvoice/messages"
)

// Echo is a stand-in voice server. It expects the session config as the
// first message, greets the client with a text message, then sends every
// binary frame straight back.
type Echo struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	port       int

	sessions atomic.Int64
}

// NewEcho creates an echo server listening on port
func NewEcho(port int, logger *slog.Logger) *Echo {
	e := &Echo{
		logger: logger,
		port:   port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024, // 64KB for audio chunks
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	e.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: e.Handler(),
		// No ReadTimeout/WriteTimeout: they would cut long-lived WebSocket connections.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return e
}

// Handler serves /ws and /health
func (e *Echo) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", e.handleWebSocket)
	mux.HandleFunc("/health", e.handleHealth)
	return mux
}

// Start begins listening for connections
func (e *Echo) Start() error {
	e.logger.Info("🚀 Echo server starting", slog.Int("port", e.port))
	e.logger.Info("📡 WebSocket endpoint", slog.String("url", fmt.Sprintf("ws://localhost:%d/ws", e.port)))
	return e.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (e *Echo) Shutdown(ctx context.Context) error {
	e.logger.Info("🛑 Shutting down echo server...")
	return e.httpServer.Shutdown(ctx)
}

// ActiveSessions returns the number of connected clients
func (e *Echo) ActiveSessions() int64 {
	return e.sessions.Load()
}

func (e *Echo) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	e.sessions.Add(1)
	defer e.sessions.Add(-1)

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return
	}

	cfg, err := decodeSessionConfig(msgType, data)
	if err != nil {
		e.logger.Warn("Rejecting client", slog.Any("error", err))
		_ = e.writeJSON(conn, map[string]string{"error": err.Error()})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session config required"),
			time.Now().Add(time.Second))
		return
	}

	e.logger.Info("✅ Client connected", slog.String("voice", cfg.VoicePrompt), slog.String("remote", r.RemoteAddr))
	if err := e.writeJSON(conn, map[string]string{"text": "Connected to echo server with voice " + cfg.Voice()}); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				e.logger.Debug("Client read ended", slog.Any("error", err))
			}
			e.logger.Info("🔌 Client disconnected", slog.String("remote", r.RemoteAddr))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			err = conn.WriteMessage(websocket.BinaryMessage, data)
		case websocket.TextMessage:
			err = e.writeJSON(conn, map[string]string{"error": "unexpected text message after session config"})
		}
		if err != nil {
			e.logger.Debug("Client write failed", slog.Any("error", err))
			return
		}
	}
}

func decodeSessionConfig(msgType int, data []byte) (messages.SessionConfig, error) {
	var cfg messages.SessionConfig
	if msgType != websocket.TextMessage {
		return cfg, fmt.Errorf("first message must be the session config, got a binary frame")
	}
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid session config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (e *Echo) writeJSON(conn *websocket.Conn, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (e *Echo) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, e.ActiveSessions())
}
