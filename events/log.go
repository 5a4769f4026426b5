package events

import (
	"log/slog"
)

// LogObserver writes events to a structured logger the way the terminal
// client shows them: agent lines at info, server errors at error, everything
// else at debug.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) Observe(e Event) {
	switch e.Type {
	case TypeUtterance:
		l.logger.Info("[Agent]: "+e.Text, slog.String("session_id", e.SessionID))
	case TypeServerError:
		l.logger.Error("Server error", slog.String("session_id", e.SessionID), slog.String("error", e.Text))
	case TypeDiagnostic:
		l.logger.Debug("Server message", slog.String("session_id", e.SessionID), slog.String("raw", e.Text))
	case TypeState:
		l.logger.Debug("Session state changed",
			slog.String("session_id", e.SessionID),
			slog.String("from", e.From),
			slog.String("to", e.To),
		)
	case TypeDropped:
		l.logger.Debug("Capture chunk dropped", slog.String("session_id", e.SessionID), slog.Uint64("dropped_total", e.Count))
	case TypeResult:
		l.logger.Info("Session finished", slog.String("session_id", e.SessionID), slog.Any("result", e.Result))
	}
}
