package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionHandler serves execution decision endpoints.
type ExecutionHandler struct {
	queries Queries
	logger  *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(queries Queries, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{queries: queries, logger: logger}
}

// List returns recent execution decisions.
// GET /api/executions?limit=50
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.queries.RecentExecutions(r.Context(), parseLimit(r, 50, 200))
	if err != nil {
		writeQueryError(w, r, h.logger, "executions", err)
		return
	}
	if list == nil {
		list = []domain.ExecutionDecision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": list})
}

// Get returns a single execution decision.
// GET /api/executions/{id}
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}
	d, err := h.queries.Execution(r.Context(), id)
	if err != nil {
		writeQueryError(w, r, h.logger, "execution", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Profit sums settled net profit over a trailing window.
// GET /api/executions/profit?window=24h
func (h *ExecutionHandler) Profit(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	total, since, err := h.queries.Profit(r.Context(), window)
	if err != nil {
		writeQueryError(w, r, h.logger, "profit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":          since.Format(time.RFC3339),
		"net_profit_usd": total,
	})
}
