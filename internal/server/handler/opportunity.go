package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/service"
)

// Queries is the read side the API handlers need.
type Queries interface {
	LatestRanking(ctx context.Context, limit int) (service.Ranking, error)
	RecentOpportunities(ctx context.Context, limit int) ([]domain.Opportunity, error)
	RecentExecutions(ctx context.Context, limit int) ([]domain.ExecutionDecision, error)
	Execution(ctx context.Context, id string) (domain.ExecutionDecision, error)
	Profit(ctx context.Context, window time.Duration) (float64, time.Time, error)
	Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// OpportunityHandler serves ranked opportunity endpoints.
type OpportunityHandler struct {
	queries Queries
	logger  *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(queries Queries, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{queries: queries, logger: logger}
}

// Latest returns the most recent ranked list.
// GET /api/opportunities/latest?limit=20
func (h *OpportunityHandler) Latest(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.queries.LatestRanking(r.Context(), parseLimit(r, 20, 200))
	if err != nil {
		writeQueryError(w, r, h.logger, "ranking", err)
		return
	}
	if ranking.Opportunities == nil {
		ranking.Opportunities = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, ranking)
}

// Recent returns persisted opportunities across cycles.
// GET /api/opportunities/recent?limit=50
func (h *OpportunityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	opps, err := h.queries.RecentOpportunities(r.Context(), parseLimit(r, 50, 500))
	if err != nil {
		writeQueryError(w, r, h.logger, "opportunities", err)
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps})
}
