package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// PortfolioService exposes the cash record and its derived views.
type PortfolioService interface {
	Portfolio() domain.Portfolio
	PortfolioStats() domain.Stats
	EquityCurve() []domain.EquityPoint
	Reset(ctx context.Context) error
}

// PortfolioHandler serves the portfolio summary and reset.
type PortfolioHandler struct {
	portfolio PortfolioService
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(p PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: p, logger: logHandler(logger, "portfolio")}
}

type portfolioResponse struct {
	Portfolio   domain.Portfolio     `json:"portfolio"`
	Stats       domain.Stats         `json:"stats"`
	EquityCurve []domain.EquityPoint `json:"equity_curve"`
}

// Get returns the portfolio, its statistics and the equity curve.
// GET /api/portfolio
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	curve := h.portfolio.EquityCurve()
	if curve == nil {
		curve = []domain.EquityPoint{}
	}
	writeJSON(w, http.StatusOK, portfolioResponse{
		Portfolio:   h.portfolio.Portfolio(),
		Stats:       h.portfolio.PortfolioStats(),
		EquityCurve: curve,
	})
}

// Reset restores the initial balance and discards every position. The
// engine must be stopped.
// POST /api/portfolio/reset
func (h *PortfolioHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.portfolio.Reset(r.Context()); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to reset portfolio")
		return
	}
	writeJSON(w, http.StatusOK, h.portfolio.PortfolioStats())
}
