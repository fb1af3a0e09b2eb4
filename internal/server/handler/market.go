package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// MarketService lists active markets.
type MarketService interface {
	Markets(ctx context.Context, limit int) ([]domain.Market, error)
}

// MarketHandler serves market browsing.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(m MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: m, logger: logHandler(logger, "markets")}
}

// List returns active markets by volume.
// GET /api/markets?limit=50
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.Markets(r.Context(), parseLimit(r, 50, 200))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}
