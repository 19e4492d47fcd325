package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Ranking is the latest ranked opportunity list.
type Ranking struct {
	CycleID       string               `json:"cycle_id"`
	At            time.Time            `json:"at"`
	Source        string               `json:"source"`
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// QueryService serves read-side queries. Reads prefer the ranking cache and
// fall back to the in-process report state.
type QueryService struct {
	opps    domain.OpportunityStore
	execs   domain.ExecutionStore
	audit   domain.AuditStore
	ranking domain.RankingCache
	report  *ReportService
	now     func() time.Time
}

// NewQueryService creates a QueryService. Any store may be nil.
func NewQueryService(deps ReportDeps, report *ReportService) *QueryService {
	return &QueryService{
		opps:    deps.Opportunities,
		execs:   deps.Executions,
		audit:   deps.Audit,
		ranking: deps.Ranking,
		report:  report,
		now:     time.Now,
	}
}

// LatestRanking returns the most recent ranked list, capped at limit when
// limit is positive.
func (q *QueryService) LatestRanking(ctx context.Context, limit int) (Ranking, error) {
	var r Ranking
	if q.ranking != nil {
		id, opps, at, err := q.ranking.GetLatest(ctx)
		switch {
		case err == nil:
			r = Ranking{CycleID: id, At: at, Source: "cache", Opportunities: opps}
		case !errors.Is(err, domain.ErrNotFound):
			return Ranking{}, fmt.Errorf("query: latest ranking: %w", err)
		}
	}
	if r.CycleID == "" && q.report != nil {
		if id, opps, at, ok := q.report.Latest(); ok {
			r = Ranking{CycleID: id, At: at, Source: "memory", Opportunities: opps}
		}
	}
	if r.CycleID == "" {
		return Ranking{}, domain.ErrNotFound
	}
	if limit > 0 && len(r.Opportunities) > limit {
		r.Opportunities = r.Opportunities[:limit]
	}
	return r, nil
}

// RecentOpportunities lists persisted opportunities, newest first.
func (q *QueryService) RecentOpportunities(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if q.opps == nil {
		return nil, domain.ErrDisabled
	}
	return q.opps.ListRecent(ctx, limit)
}

// RecentExecutions lists execution decisions, newest first.
func (q *QueryService) RecentExecutions(ctx context.Context, limit int) ([]domain.ExecutionDecision, error) {
	if q.execs == nil {
		return nil, domain.ErrDisabled
	}
	return q.execs.ListRecent(ctx, limit)
}

// Execution returns one execution decision.
func (q *QueryService) Execution(ctx context.Context, id string) (domain.ExecutionDecision, error) {
	if q.execs == nil {
		return domain.ExecutionDecision{}, domain.ErrDisabled
	}
	return q.execs.GetByID(ctx, id)
}

// Profit sums the net profit of settled executions over the trailing window.
func (q *QueryService) Profit(ctx context.Context, window time.Duration) (float64, time.Time, error) {
	if q.execs == nil {
		return 0, time.Time{}, domain.ErrDisabled
	}
	since := q.now().UTC().Add(-window)
	total, err := q.execs.SumNetProfit(ctx, since)
	return total, since, err
}

// Audit lists audit log entries.
func (q *QueryService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if q.audit == nil {
		return nil, domain.ErrDisabled
	}
	return q.audit.List(ctx, opts)
}

// Status returns the in-process cycle status.
func (q *QueryService) Status() CycleStatus {
	if q.report == nil {
		return CycleStatus{}
	}
	return q.report.Status()
}
