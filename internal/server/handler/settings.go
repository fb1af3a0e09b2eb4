package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// SettingsService reads and updates the risk settings.
type SettingsService interface {
	Settings(ctx context.Context) (domain.Settings, error)
	UpdateSettings(ctx context.Context, values map[string]string) (domain.Settings, error)
}

// SettingsHandler serves the settings endpoints.
type SettingsHandler struct {
	settings SettingsService
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(s SettingsService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: s, logger: logHandler(logger, "settings")}
}

// Get returns the current settings.
// GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Settings(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Update applies a partial update. Values may be JSON strings, numbers or
// booleans, e.g. {"mode":"grind","max_days":14}. One invalid value rejects
// the whole request.
// PUT /api/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "no settings given")
		return
	}

	values := make(map[string]string, len(body))
	for k, v := range body {
		switch v := v.(type) {
		case string:
			values[k] = v
		case json.Number:
			values[k] = v.String()
		case bool:
			values[k] = fmt.Sprint(v)
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("setting %s: unsupported value", k))
			return
		}
	}

	s, err := h.settings.UpdateSettings(r.Context(), values)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
