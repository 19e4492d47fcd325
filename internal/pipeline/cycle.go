// Package pipeline runs the monitoring cycle, snapshot ingestion, and
// retention jobs, and schedules them under one orchestrator.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/gate"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/pricing"
	"github.com/alanyoungcy/flasharb/internal/scanner"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// SnapshotSource loads the cycle's pool snapshot.
type SnapshotSource interface {
	Load(ctx context.Context) (domain.Snapshot, error)
	Source() string
}

// CostResolver produces the cycle's cost basis.
type CostResolver interface {
	Resolve(ctx context.Context, points []domain.PricePoint) (domain.CostSnapshot, error)
}

// Evaluator revalidates the ranked list against live state.
type Evaluator interface {
	Evaluate(ctx context.Context, ranked []domain.Opportunity) gate.Decision
}

// Executor dispatches an approved opportunity.
type Executor interface {
	Dispatch(ctx context.Context, rec domain.ExecutionDecision, opp domain.Opportunity) domain.ExecutionDecision
}

// Reporter receives every finished cycle.
type Reporter interface {
	RecordCycle(ctx context.Context, result CycleResult) error
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	Report domain.CycleReport
	// Points are the cycle's price points; nil when the cycle ended early.
	Points []domain.PricePoint
}

// CycleParams configures the cycle.
type CycleParams struct {
	MinLiquidityUSD float64
	Scan            scanner.Params
	DisplayTop      int
}

// Cycle wires the per-cycle components. Gate and Executor are optional: with
// no gate the cycle only reports, and with no executor an approved decision
// is recorded as execution_disabled.
type Cycle struct {
	source   SnapshotSource
	oracle   CostResolver
	gate     Evaluator
	executor Executor
	reporter Reporter
	params   CycleParams
	logger   *slog.Logger
	now      func() time.Time
	trigger  chan struct{}
}

// NewCycle creates a Cycle.
func NewCycle(source SnapshotSource, oracle CostResolver, g Evaluator, executor Executor,
	reporter Reporter, params CycleParams, logger *slog.Logger) *Cycle {
	if params.DisplayTop <= 0 {
		params.DisplayTop = 5
	}
	return &Cycle{
		source:   source,
		oracle:   oracle,
		gate:     g,
		executor: executor,
		reporter: reporter,
		params:   params,
		logger:   logger.With(slog.String("component", "cycle")),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks RunLoop to start a cycle now instead of waiting for the next
// tick. It never blocks and reports false when a trigger is already pending.
func (c *Cycle) Trigger() bool {
	select {
	case c.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes one cycle. A snapshot or oracle failure ends the cycle with
// an empty result and the error; every later failure degrades to no action.
func (c *Cycle) Run(ctx context.Context) (CycleResult, error) {
	start := c.now()
	res := CycleResult{Report: domain.CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: start.UTC(),
	}}
	log := c.logger.With(slog.String("cycle_id", res.Report.CycleID))

	err := c.run(ctx, log, &res)
	res.Report.Duration = c.now().Sub(start)
	metrics.CycleDuration.Observe(res.Report.Duration.Seconds())
	metrics.CyclesTotal.WithLabelValues(outcome(err)).Inc()

	if err != nil {
		res.Report.Error = err.Error()
		res.Report.Opportunities = nil
		res.Points = nil
		log.ErrorContext(ctx, "cycle terminated", slog.String("error", err.Error()))
	} else {
		log.InfoContext(ctx, "cycle complete",
			slog.Int("opportunities", len(res.Report.Opportunities)),
			slog.Duration("duration", res.Report.Duration),
		)
	}

	if c.reporter != nil && ctx.Err() == nil {
		if rerr := c.reporter.RecordCycle(ctx, res); rerr != nil {
			log.WarnContext(ctx, "report failed", slog.String("error", rerr.Error()))
		}
	}
	return res, err
}

func (c *Cycle) run(ctx context.Context, log *slog.Logger, res *CycleResult) error {
	rep := &res.Report

	snap, err := c.source.Load(ctx)
	if err != nil {
		return err
	}
	log.DebugContext(ctx, "snapshot loaded",
		slog.String("source", c.source.Source()),
		slog.Int("pools", snap.PoolCount()),
	)

	reg := venue.NewRegistry(snap.VenueIDs(), log)
	rep.Venues = reg.Len()

	points, stats := pricing.Extract(snap, reg, c.params.MinLiquidityUSD)
	rep.Stats = stats
	rep.PricePoints = len(points)
	recordSkips(stats)
	metrics.PricePoints.Set(float64(len(points)))
	if stats.Skipped() > 0 {
		log.InfoContext(ctx, "pools skipped",
			slog.Int("malformed", stats.SkippedMalformed),
			slog.Int("liquidity", stats.SkippedLiquidity),
			slog.Int("name", stats.SkippedName),
			slog.Int("token", stats.SkippedToken),
			slog.Int("price", stats.SkippedPrice),
		)
	}

	groups := pricing.Aggregate(points)
	rep.Pairs = len(groups)

	cost, err := c.oracle.Resolve(ctx, points)
	if err != nil {
		return err
	}
	rep.Cost = &cost
	metrics.GasCostUSD.Set(cost.GasCostUSD)

	ranked := scanner.Rank(scanner.Scan(groups, cost, c.params.Scan, c.now().UTC()))
	rep.Opportunities = ranked
	res.Points = points
	metrics.Opportunities.Set(float64(len(ranked)))
	if len(ranked) > 0 {
		metrics.BestNetProfitUSD.Set(ranked[0].NetProfitUSD)
	} else {
		metrics.BestNetProfitUSD.Set(0)
	}
	c.logTop(ctx, log, ranked)

	if c.gate == nil {
		return nil
	}
	decision := c.gate.Evaluate(ctx, ranked)
	rec := decision.Record(rep.CycleID, c.now().UTC())
	if decision.Approved {
		if c.executor == nil {
			rec.Status = domain.ExecRejected
			rec.Reason = domain.ReasonExecutionDisabled
		} else {
			rec = c.executor.Dispatch(ctx, rec, *decision.Opportunity)
		}
	}
	rep.Decision = &rec
	return nil
}

func (c *Cycle) logTop(ctx context.Context, log *slog.Logger, ranked []domain.Opportunity) {
	if len(ranked) == 0 {
		log.InfoContext(ctx, "no opportunities")
		return
	}
	for i, o := range scanner.Top(ranked, c.params.DisplayTop) {
		log.InfoContext(ctx, "opportunity",
			slog.Int("rank", i+1),
			slog.String("pair", o.BaseSymbol+"/"+o.QuoteSymbol),
			slog.String("buy", o.BuyVenue),
			slog.String("sell", o.SellVenue),
			slog.Float64("profit_pct", o.ProfitPercent),
			slog.Float64("net_usd", o.NetProfitUSD),
			slog.String("flash_amount", o.FlashLoanAmount+" "+o.FlashLoanAssetSymbol),
		)
	}
}

func recordSkips(s domain.ExtractStats) {
	for reason, n := range map[string]int{
		"malformed": s.SkippedMalformed,
		"liquidity": s.SkippedLiquidity,
		"name":      s.SkippedName,
		"token":     s.SkippedToken,
		"price":     s.SkippedPrice,
	} {
		if n > 0 {
			metrics.PoolsSkipped.WithLabelValues(reason).Add(float64(n))
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrSnapshot):
		return "snapshot_error"
	case errors.Is(err, domain.ErrOracle):
		return "oracle_error"
	default:
		return "error"
	}
}

// RunLoop runs the cycle immediately and then every interval, or on
// Trigger, until ctx is done. Cycle failures are logged and do not stop the
// loop.
func (c *Cycle) RunLoop(ctx context.Context, interval time.Duration) error {
	if _, err := c.Run(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cycle loop stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-c.trigger:
			c.logger.InfoContext(ctx, "cycle triggered")
			ticker.Reset(interval)
		}
		if _, err := c.Run(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
