package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pollypilot/internal/engine"
)

// EngineControl is the lifecycle surface of the engine.
type EngineControl interface {
	Start(ctx context.Context) bool
	Stop() bool
	Running() bool
	Status(ctx context.Context) engine.Status
	Trigger(ctx context.Context, name string) (bool, error)
}

// EngineHandler serves start/stop, status and manual job triggers.
type EngineHandler struct {
	engine EngineControl
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(e EngineControl, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: e, logger: logHandler(logger, "engine")}
}

// Status returns the engine status.
// GET /api/status
func (h *EngineHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status(r.Context()))
}

// Start starts the engine. Starting a running engine is not an error.
// POST /api/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	// Job runs must not inherit the request's cancellation.
	started := h.engine.Start(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"running": h.engine.Running(), "changed": started})
}

// Stop stops scheduling new runs.
// POST /api/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	stopped := h.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.engine.Running(), "changed": stopped})
}

// Trigger runs a job immediately. A run already in flight coalesces the
// request and the response reports triggered=false.
// POST /api/jobs/{name}/trigger
func (h *EngineHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	triggered, err := h.engine.Trigger(r.Context(), name)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to trigger job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": name, "triggered": triggered})
}
