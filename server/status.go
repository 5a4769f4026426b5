package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/room4-2/duplexvoice/session"
)

// Snapshotter reports a session's live state
type Snapshotter interface {
	Snapshot() session.Result
	State() session.State
}

// SessionLister reports the ids of sessions currently streaming, across
// every client sharing the registry.
type SessionLister interface {
	ActiveSessions(ctx context.Context) ([]string, error)
}

// Status serves /health, /status and /metrics for a running client.
type Status struct {
	server    *http.Server
	logger    *slog.Logger
	gatherer  prometheus.Gatherer
	startTime time.Time

	mu       sync.RWMutex
	source   Snapshotter
	registry SessionLister
}

// NewStatus creates a status server on addr. gatherer may be nil to use the
// default registry.
func NewStatus(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Status {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Status{
		logger:    logger,
		gatherer:  gatherer,
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// SetSource sets the session /status reports on
func (s *Status) SetSource(src Snapshotter) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// SetRegistry adds the shared list of active sessions to /status
func (s *Status) SetRegistry(reg SessionLister) {
	s.mu.Lock()
	s.registry = reg
	s.mu.Unlock()
}

// Handler returns the status routes
func (s *Status) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Status) Start() error {
	s.logger.Info("Status server listening", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Status) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Status) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()

	state := "none"
	if src != nil {
		state = src.State().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"session_state":  state,
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

func (s *Status) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	src := s.source
	reg := s.registry
	s.mu.RUnlock()

	if src == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no active session"})
		return
	}
	body := map[string]any{
		"state":   src.State().String(),
		"session": src.Snapshot(),
	}
	if reg != nil {
		ids, err := reg.ActiveSessions(r.Context())
		if err != nil {
			s.logger.Warn("Listing active sessions failed", slog.Any("error", err))
		} else {
			body["active_sessions"] = ids
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
