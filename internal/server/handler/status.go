package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/service"
)

// StatusSource supplies the in-process cycle status.
type StatusSource interface {
	Status() service.CycleStatus
}

// StatusHandler serves the engine status for dashboards.
type StatusHandler struct {
	mode      string
	venues    []string
	startedAt time.Time
	source    StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, venues []string, startedAt time.Time, source StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, venues: venues, startedAt: startedAt, source: source}
}

// GetStatus responds with the run mode, uptime and last cycle summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"venues":         h.venues,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"cycle":          h.source.Status(),
	})
}
