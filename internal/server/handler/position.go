package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	OpenPositions() []domain.Position
	History(limit int) []domain.Position
	ClosePosition(ctx context.Context, id int64) (float64, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "positions"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListOpen returns every open position, newest first.
// GET /api/positions/open
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.OpenPositions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// History returns positions of any status, newest first.
// GET /api/history?limit=50
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.History(parseLimit(r, 50, 500))
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// Close closes an open position at its last marked price. Closing an
// already-closed position returns its recorded P&L.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	pnl, err := h.positions.ClosePosition(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to close position")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "pnl": pnl})
}
