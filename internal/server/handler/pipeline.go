package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// CycleTrigger requests an out-of-schedule cycle.
type CycleTrigger interface {
	Trigger() bool
}

// PipelineHandler serves the cycle trigger endpoint.
type PipelineHandler struct {
	trigger CycleTrigger
	logger  *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler. trigger may be nil when no
// cycle loop runs in this mode.
func NewPipelineHandler(trigger CycleTrigger, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{trigger: trigger, logger: logger}
}

// TriggerCycle enqueues one cycle. Repeated triggers before the loop picks
// the first one up are coalesced.
// POST /api/cycles/trigger
func (h *PipelineHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusConflict, "no cycle loop running in this mode")
		return
	}
	queued := h.trigger.Trigger()
	h.logger.InfoContext(r.Context(), "cycle trigger requested", slog.Bool("queued", queued))

	msg := "cycle trigger enqueued"
	if !queued {
		msg = "cycle trigger already pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      msg,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
