// Package gate revalidates the best-ranked opportunity against live on-chain
// state before anything is dispatched.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/oracle"
	"github.com/alanyoungcy/flasharb/internal/scanner"
)

// Aggregator is the live price source.
type Aggregator interface {
	Deployed(ctx context.Context) (bool, error)
	DexName(ctx context.Context, typeCode uint8) (string, error)
	TokenPrice(ctx context.Context, base, quote common.Address, typeCode uint8) (float64, error)
}

// GasSource reports the current network gas price.
type GasSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Policy decides what an Indeterminate revalidation means.
type Policy string

const (
	// FailClosed rejects when live state cannot be read.
	FailClosed Policy = "fail_closed"
	// FailOpen proceeds when live state cannot be read.
	FailOpen Policy = "fail_open"
)

// ParsePolicy maps a config value to a Policy; anything unrecognized is
// FailClosed.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), string(FailOpen)) {
		return FailOpen
	}
	return FailClosed
}

// Params configures the gate.
type Params struct {
	MinProfitUSD       float64
	SafetyMultiplier   float64
	MinProfitPercent   float64
	MaxSlippagePercent float64
	MaxGasPriceGwei    float64
	Policy             Policy
}

// Decision is the gate's outcome for one cycle.
type Decision struct {
	Approved      bool
	Verdict       domain.Verdict
	Reason        domain.Reason
	Opportunity   *domain.Opportunity
	LiveBuyPrice  float64
	LiveSellPrice float64
	LiveProfitPct float64
	GasPriceWei   *big.Int
	Err           error
}

// Gate performs live revalidation.
type Gate struct {
	agg    Aggregator
	gas    GasSource
	params Params
	logger *slog.Logger
}

// New creates a Gate.
func New(agg Aggregator, gas GasSource, params Params, logger *slog.Logger) *Gate {
	if params.Policy == "" {
		params.Policy = FailClosed
	}
	return &Gate{
		agg:    agg,
		gas:    gas,
		params: params,
		logger: logger.With(slog.String("component", "gate")),
	}
}

// Policy returns the active policy.
func (g *Gate) Policy() Policy { return g.params.Policy }

// Evaluate selects the first ranked opportunity clearing the safety margin and
// checks it against live contract state and the gas ceiling.
func (g *Gate) Evaluate(ctx context.Context, ranked []domain.Opportunity) Decision {
	d := g.evaluate(ctx, ranked)
	metrics.GateDecisions.WithLabelValues(string(d.Verdict), string(d.Reason)).Inc()

	attrs := []any{
		slog.Bool("approved", d.Approved),
		slog.String("verdict", string(d.Verdict)),
		slog.String("reason", string(d.Reason)),
	}
	if d.Opportunity != nil {
		attrs = append(attrs,
			slog.String("route", d.Opportunity.RouteName()),
			slog.Float64("expected_pct", d.Opportunity.ProfitPercent),
			slog.Float64("live_pct", d.LiveProfitPct),
		)
	}
	if d.Err != nil {
		attrs = append(attrs, slog.String("error", d.Err.Error()))
	}
	g.logger.Info("gate decision", attrs...)
	return d
}

func (g *Gate) evaluate(ctx context.Context, ranked []domain.Opportunity) Decision {
	threshold := g.params.MinProfitUSD * g.params.SafetyMultiplier
	var chosen *domain.Opportunity
	for i := range ranked {
		if ranked[i].NetProfitUSD >= threshold {
			o := ranked[i]
			chosen = &o
			break
		}
	}
	if chosen == nil {
		return Decision{Verdict: domain.VerdictNotProfitable, Reason: domain.ReasonInsufficientMargin}
	}

	d := Decision{Opportunity: chosen, Verdict: domain.VerdictProfitable}
	var uncertain error

	// Contract liveness.
	deployed, err := g.agg.Deployed(ctx)
	switch {
	case err != nil:
		uncertain = fmt.Errorf("aggregator liveness: %w", err)
	case !deployed:
		d.Verdict = domain.VerdictNotProfitable
		d.Reason = domain.ReasonContractUnavailable
		d.Err = domain.ErrContract
		return d
	default:
		if _, err := g.agg.DexName(ctx, chosen.BuyVenueType); err != nil {
			uncertain = fmt.Errorf("aggregator probe: %w", err)
		}
	}

	// Live quotes for both legs.
	if uncertain == nil {
		buy, sell, err := g.liveQuotes(ctx, chosen)
		if err != nil {
			uncertain = err
		} else {
			d.LiveBuyPrice, d.LiveSellPrice = buy, sell
			d.LiveProfitPct = scanner.ProfitPercent(buy, sell, g.params.MaxSlippagePercent)
			if d.LiveProfitPct <= g.params.MinProfitPercent {
				d.Verdict = domain.VerdictNotProfitable
				d.Reason = domain.ReasonNotProfitable
				d.Err = domain.ErrValidation
				return d
			}
		}
	}

	if uncertain != nil {
		d.Verdict = domain.VerdictIndeterminate
		d.Err = uncertain
		if g.params.Policy != FailOpen {
			d.Reason = domain.ReasonIndeterminate
			return d
		}
		g.logger.Warn("revalidation indeterminate, proceeding under fail_open",
			slog.String("route", chosen.RouteName()),
			slog.String("error", uncertain.Error()),
		)
	}

	// Gas ceiling.
	price, err := g.gas.SuggestGasPrice(ctx)
	if err != nil {
		d.Verdict = domain.VerdictIndeterminate
		d.Err = errors.Join(d.Err, fmt.Errorf("gas price: %w", err))
		if g.params.Policy != FailOpen {
			d.Reason = domain.ReasonIndeterminate
			return d
		}
	} else {
		d.GasPriceWei = price
		if oracle.WeiToGwei(price) > g.params.MaxGasPriceGwei {
			d.Reason = domain.ReasonGasTooHigh
			d.Err = fmt.Errorf("gas price %.2f gwei exceeds ceiling %.2f", oracle.WeiToGwei(price), g.params.MaxGasPriceGwei)
			return d
		}
	}

	d.Approved = true
	d.Reason = domain.ReasonApproved
	return d
}

func (g *Gate) liveQuotes(ctx context.Context, o *domain.Opportunity) (buy, sell float64, err error) {
	base := common.HexToAddress(o.BaseToken)
	quote := common.HexToAddress(o.QuoteToken)

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		p, err := g.agg.TokenPrice(ectx, base, quote, o.BuyVenueType)
		if err != nil {
			return fmt.Errorf("live buy quote: %w", err)
		}
		buy = p
		return nil
	})
	eg.Go(func() error {
		p, err := g.agg.TokenPrice(ectx, base, quote, o.SellVenueType)
		if err != nil {
			return fmt.Errorf("live sell quote: %w", err)
		}
		sell = p
		return nil
	})
	if err := eg.Wait(); err != nil {
		return 0, 0, err
	}
	if buy <= 0 || sell <= 0 {
		return 0, 0, fmt.Errorf("live quote unavailable (buy=%g sell=%g)", buy, sell)
	}
	return buy, sell, nil
}

// Record converts d into the persisted decision record.
func (d Decision) Record(cycleID string, now time.Time) domain.ExecutionDecision {
	rec := domain.ExecutionDecision{
		ID:            uuid.NewString(),
		CycleID:       cycleID,
		Approved:      d.Approved,
		Verdict:       d.Verdict,
		Reason:        d.Reason,
		Status:        domain.ExecRejected,
		LiveProfitPct: d.LiveProfitPct,
		DecidedAt:     now,
	}
	if d.Approved {
		rec.Status = domain.ExecApproved
	}
	if o := d.Opportunity; o != nil {
		rec.OpportunityID = o.ID
		rec.TokenPair = o.TokenPair
		rec.BuyVenue = o.BuyVenue
		rec.SellVenue = o.SellVenue
		rec.ExpectedProfitPct = o.ProfitPercent
		rec.NetProfitUSD = o.NetProfitUSD
	}
	if d.Err != nil {
		rec.Error = d.Err.Error()
	}
	return rec
}
