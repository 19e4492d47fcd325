// Package service records cycle results to the configured backends and
// answers read queries for the HTTP API.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/pipeline"
)

// CycleArchiver writes a cycle report to blob storage.
type CycleArchiver interface {
	ArchiveCycle(ctx context.Context, report domain.CycleReport) (string, error)
}

// Notifier sends operator alerts.
type Notifier interface {
	NotifyExecution(ctx context.Context, d domain.ExecutionDecision) error
	NotifyCycleError(ctx context.Context, cycleID string, cause error) error
}

// ReportDeps lists the sinks a ReportService writes to. Any field may be nil
// when the matching backend is disabled.
type ReportDeps struct {
	Opportunities domain.OpportunityStore
	Executions    domain.ExecutionStore
	Audit         domain.AuditStore
	Ranking       domain.RankingCache
	Bus           domain.SignalBus
	Archiver      CycleArchiver
	Notifier      Notifier
}

// CycleStatus is the in-process view of recent cycles.
type CycleStatus struct {
	Cycles        int64                     `json:"cycles"`
	Failures      int64                     `json:"failures"`
	LastCycleID   string                    `json:"last_cycle_id,omitempty"`
	LastStartedAt time.Time                 `json:"last_started_at,omitempty"`
	LastDuration  time.Duration             `json:"last_duration"`
	LastError     string                    `json:"last_error,omitempty"`
	Venues        int                       `json:"venues"`
	PricePoints   int                       `json:"price_points"`
	Opportunities int                       `json:"opportunities"`
	Cost          *domain.CostSnapshot      `json:"cost,omitempty"`
	LastDecision  *domain.ExecutionDecision `json:"last_decision,omitempty"`
}

// ReportService fans each cycle result out to persistence, cache, bus,
// archive and notification sinks. Sink failures are logged and collected;
// none of them affect later sinks.
type ReportService struct {
	deps       ReportDeps
	publishTop int
	logger     *slog.Logger

	mu     sync.RWMutex
	status CycleStatus
	latest latestRanking
}

type latestRanking struct {
	cycleID string
	at      time.Time
	opps    []domain.Opportunity
}

// NewReportService creates a ReportService. publishTop bounds how many
// opportunities are included in the bus message; the full list is always
// persisted.
func NewReportService(deps ReportDeps, publishTop int, logger *slog.Logger) *ReportService {
	if publishTop <= 0 {
		publishTop = 10
	}
	return &ReportService{
		deps:       deps,
		publishTop: publishTop,
		logger:     logger.With(slog.String("component", "report_service")),
	}
}

var _ pipeline.Reporter = (*ReportService)(nil)

// RecordCycle implements pipeline.Reporter.
func (s *ReportService) RecordCycle(ctx context.Context, res pipeline.CycleResult) error {
	rep := res.Report
	s.track(rep)

	var errs []error
	if len(rep.Opportunities) > 0 {
		if err := s.persistOpportunities(ctx, rep); err != nil {
			errs = append(errs, err)
		}
	}
	if rep.Decision != nil {
		if err := s.RecordDecision(ctx, *rep.Decision); err != nil {
			errs = append(errs, err)
		}
	}

	s.publish(ctx, domain.ChannelStatus, statusMessage(rep))

	if rep.Error != "" {
		s.audit(ctx, "cycle.error", map[string]any{"cycle_id": rep.CycleID, "error": rep.Error})
		if s.deps.Notifier != nil {
			if err := s.deps.Notifier.NotifyCycleError(ctx, rep.CycleID, errors.New(rep.Error)); err != nil {
				s.logger.WarnContext(ctx, "cycle error notification failed", slog.String("error", err.Error()))
			}
		}
	}

	if s.deps.Archiver != nil {
		key, err := s.deps.Archiver.ArchiveCycle(ctx, rep)
		if err != nil {
			errs = append(errs, fmt.Errorf("report_service: archive cycle: %w", err))
		} else {
			s.logger.DebugContext(ctx, "cycle archived", slog.String("key", key))
		}
	}
	return errors.Join(errs...)
}

func (s *ReportService) persistOpportunities(ctx context.Context, rep domain.CycleReport) error {
	var errs []error
	if s.deps.Opportunities != nil {
		if err := s.deps.Opportunities.InsertBatch(ctx, rep.CycleID, rep.Opportunities); err != nil {
			errs = append(errs, fmt.Errorf("report_service: insert opportunities: %w", err))
		}
	}
	if s.deps.Ranking != nil && rep.Cost != nil {
		if err := s.deps.Ranking.SetLatest(ctx, rep.CycleID, rep.Opportunities, *rep.Cost); err != nil {
			errs = append(errs, fmt.Errorf("report_service: cache ranking: %w", err))
		}
	}

	top := rep.Opportunities
	if len(top) > s.publishTop {
		top = top[:s.publishTop]
	}
	s.publish(ctx, domain.ChannelOpportunities, map[string]any{
		"event":         "opportunities",
		"cycle_id":      rep.CycleID,
		"count":         len(rep.Opportunities),
		"opportunities": top,
	})
	return errors.Join(errs...)
}

// RecordDecision persists an execution decision, streams it, and alerts on
// terminal dispatch outcomes.
func (s *ReportService) RecordDecision(ctx context.Context, d domain.ExecutionDecision) error {
	var err error
	if s.deps.Executions != nil {
		if serr := s.deps.Executions.Save(ctx, d); serr != nil {
			err = fmt.Errorf("report_service: save execution %s: %w", d.ID, serr)
		}
	}

	payload, merr := json.Marshal(d)
	if merr == nil {
		s.publishRaw(ctx, domain.ChannelExecutions, payload)
		if s.deps.Bus != nil {
			if serr := s.deps.Bus.StreamAppend(ctx, domain.StreamExecutions, payload); serr != nil {
				s.logger.WarnContext(ctx, "stream append failed", slog.String("error", serr.Error()))
			}
		}
	}

	s.audit(ctx, "execution."+string(d.Status), map[string]any{
		"execution_id":   d.ID,
		"cycle_id":       d.CycleID,
		"opportunity_id": d.OpportunityID,
		"reason":         string(d.Reason),
		"tx_hash":        d.TxHash,
	})

	if s.deps.Notifier != nil {
		if nerr := s.deps.Notifier.NotifyExecution(ctx, d); nerr != nil {
			s.logger.WarnContext(ctx, "execution notification failed", slog.String("error", nerr.Error()))
		}
	}
	return err
}

// Status returns a copy of the in-process cycle status.
func (s *ReportService) Status() CycleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Latest returns the most recent ranking held in memory.
func (s *ReportService) Latest() (cycleID string, opps []domain.Opportunity, at time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest.cycleID == "" {
		return "", nil, time.Time{}, false
	}
	return s.latest.cycleID, s.latest.opps, s.latest.at, true
}

func (s *ReportService) track(rep domain.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.status
	st.Cycles++
	st.LastCycleID = rep.CycleID
	st.LastStartedAt = rep.StartedAt
	st.LastDuration = rep.Duration
	st.LastError = rep.Error
	st.Venues = rep.Venues
	st.PricePoints = rep.PricePoints
	st.Opportunities = len(rep.Opportunities)
	st.Cost = rep.Cost
	if rep.Error != "" {
		st.Failures++
		return
	}
	if rep.Decision != nil {
		st.LastDecision = rep.Decision
	}
	s.latest = latestRanking{cycleID: rep.CycleID, at: rep.StartedAt, opps: rep.Opportunities}
}

func (s *ReportService) publish(ctx context.Context, channel string, v any) {
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal bus message failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	s.publishRaw(ctx, channel, payload)
}

func (s *ReportService) publishRaw(ctx context.Context, channel string, payload []byte) {
	if s.deps.Bus == nil {
		return
	}
	if err := s.deps.Bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (s *ReportService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func statusMessage(rep domain.CycleReport) map[string]any {
	msg := map[string]any{
		"event":         "cycle",
		"cycle_id":      rep.CycleID,
		"started_at":    rep.StartedAt.Format(time.RFC3339Nano),
		"duration_ms":   rep.Duration.Milliseconds(),
		"venues":        rep.Venues,
		"price_points":  rep.PricePoints,
		"opportunities": len(rep.Opportunities),
	}
	if rep.Error != "" {
		msg["error"] = rep.Error
	}
	if rep.Decision != nil {
		msg["decision"] = map[string]any{
			"status": rep.Decision.Status,
			"reason": rep.Decision.Reason,
		}
	}
	return msg
}
