package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// AuditHandler serves the audit log.
type AuditHandler struct {
	queries Queries
	logger  *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(queries Queries, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{queries: queries, logger: logger}
}

// List returns audit entries, newest first.
// GET /api/audit?limit=50&offset=0&since=2026-01-01T00:00:00Z
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queries.Audit(r.Context(), parseListOpts(r))
	if err != nil {
		writeQueryError(w, r, h.logger, "audit log", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
