package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// LogService reads the journal.
type LogService interface {
	Logs(ctx context.Context, limit int) ([]domain.LogEntry, error)
}

// LogHandler serves the journal.
type LogHandler struct {
	logs   LogService
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(l LogService, logger *slog.Logger) *LogHandler {
	return &LogHandler{logs: l, logger: logHandler(logger, "logs")}
}

// List returns the most recent journal entries, newest first.
// GET /api/logs?limit=100
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.logs.Logs(r.Context(), parseLimit(r, 100, 1000))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to load logs")
		return
	}
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}
