// Package oracle resolves the per-cycle cost basis: the network gas price and
// the native asset's USD price.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// GasSource supplies network fee data.
type GasSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	LatestBaseFee(ctx context.Context) (*big.Int, error)
}

// NativePriceFeed supplies the native asset's USD price.
type NativePriceFeed interface {
	LatestPrice(ctx context.Context) (float64, error)
}

// Params tunes the oracle.
type Params struct {
	GasLimit        uint64
	DefaultGasPrice *big.Int
	// DefaultTip is used when the node cannot suggest a priority fee.
	DefaultTip    *big.Int
	Stablecoins   []string
	NativeSymbols []string
}

// CostOracle resolves CostSnapshots and fee quotes.
type CostOracle struct {
	gas    GasSource
	feed   NativePriceFeed
	params Params
	logger *slog.Logger
}

// New creates a CostOracle. feed may be nil, in which case the native price
// always comes from the snapshot average.
func New(gas GasSource, feed NativePriceFeed, params Params, logger *slog.Logger) *CostOracle {
	return &CostOracle{
		gas:    gas,
		feed:   feed,
		params: params,
		logger: logger.With(slog.String("component", "cost_oracle")),
	}
}

// Resolve fetches the gas price and the native USD price concurrently and
// joins them into a CostSnapshot. A failed gas lookup falls back to the
// configured default; a failed feed falls back to the average WETH/stable
// price across points. When no native price can be determined Resolve
// returns an error wrapping domain.ErrOracle.
func (o *CostOracle) Resolve(ctx context.Context, points []domain.PricePoint) (domain.CostSnapshot, error) {
	var (
		gasPrice  *big.Int
		gasSource = domain.SourceRPC
		native    float64
		feedErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.gas.SuggestGasPrice(gctx)
		if err != nil || p == nil || p.Sign() <= 0 {
			o.logger.Warn("gas price unavailable, using default",
				slog.Any("error", err),
				slog.String("default_wei", o.params.DefaultGasPrice.String()),
			)
			metrics.OracleFallbacks.WithLabelValues("gas").Inc()
			gasPrice = new(big.Int).Set(o.params.DefaultGasPrice)
			gasSource = domain.SourceDefault
			return nil
		}
		gasPrice = p
		return nil
	})
	g.Go(func() error {
		if o.feed == nil {
			feedErr = fmt.Errorf("no price feed configured")
			return nil
		}
		native, feedErr = o.feed.LatestPrice(gctx)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return domain.CostSnapshot{}, fmt.Errorf("oracle: %w", err)
	}

	priceSource := domain.SourceFeed
	if feedErr != nil || native <= 0 {
		avg, n := o.snapshotNativePrice(points)
		if n == 0 {
			return domain.CostSnapshot{}, fmt.Errorf("%w: price feed: %v; no native/stable points in snapshot", domain.ErrOracle, feedErr)
		}
		o.logger.Warn("price feed unavailable, using snapshot average",
			slog.Any("error", feedErr),
			slog.Float64("native_usd", avg),
			slog.Int("samples", n),
		)
		metrics.OracleFallbacks.WithLabelValues("native_price").Inc()
		native = avg
		priceSource = domain.SourceSnapshot
	}

	cost := domain.CostSnapshot{
		GasPriceWei: gasPrice,
		GasLimit:    o.params.GasLimit,
		NativeUSD:   native,
		GasCostUSD:  GasCostUSD(gasPrice, o.params.GasLimit, native),
		GasSource:   gasSource,
		PriceSource: priceSource,
	}
	o.logger.Debug("cost basis resolved",
		slog.String("gas_price_wei", gasPrice.String()),
		slog.Float64("native_usd", native),
		slog.Float64("gas_cost_usd", cost.GasCostUSD),
		slog.String("gas_source", gasSource),
		slog.String("price_source", priceSource),
	)
	return cost, nil
}

// snapshotNativePrice averages the price of native-symbol bases quoted in a
// stablecoin.
func (o *CostOracle) snapshotNativePrice(points []domain.PricePoint) (float64, int) {
	var (
		sum float64
		n   int
	)
	for _, p := range points {
		if containsFold(o.params.NativeSymbols, p.BaseSymbol) && containsFold(o.params.Stablecoins, p.QuoteSymbol) && p.Price > 0 {
			sum += p.Price
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// FeeQuote fetches the fee data used to price a dispatched transaction. The
// fee cap is twice the latest base fee plus the tip, or the legacy gas price
// on chains without a base fee.
func (o *CostOracle) FeeQuote(ctx context.Context) (domain.FeeQuote, error) {
	var gasPrice, tip, baseFee *big.Int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.gas.SuggestGasPrice(gctx)
		if err != nil {
			return fmt.Errorf("gas price: %w", err)
		}
		gasPrice = p
		return nil
	})
	g.Go(func() error {
		t, err := o.gas.SuggestGasTipCap(gctx)
		if err != nil || t == nil {
			o.logger.Warn("tip cap unavailable, using default", slog.Any("error", err))
			t = new(big.Int).Set(o.params.DefaultTip)
		}
		tip = t
		return nil
	})
	g.Go(func() error {
		b, err := o.gas.LatestBaseFee(gctx)
		if err != nil {
			return fmt.Errorf("base fee: %w", err)
		}
		baseFee = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.FeeQuote{}, fmt.Errorf("%w: fee quote: %v", domain.ErrOracle, err)
	}

	maxFee := new(big.Int).Set(gasPrice)
	if baseFee != nil {
		maxFee = new(big.Int).Mul(baseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)
	}
	if tip.Cmp(maxFee) > 0 {
		tip = new(big.Int).Set(maxFee)
	}
	return domain.FeeQuote{
		GasPrice:             gasPrice,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
	}, nil
}

var weiPerEther = new(big.Float).SetInt(big.NewInt(1e18))

// GasCostUSD returns gasPriceWei * gasLimit / 1e18 * nativeUSD.
func GasCostUSD(gasPriceWei *big.Int, gasLimit uint64, nativeUSD float64) float64 {
	if gasPriceWei == nil {
		return 0
	}
	wei := new(big.Float).SetInt(new(big.Int).Mul(gasPriceWei, new(big.Int).SetUint64(gasLimit)))
	eth := new(big.Float).Quo(wei, weiPerEther)
	usd, _ := new(big.Float).Mul(eth, big.NewFloat(nativeUSD)).Float64()
	return usd
}

// GweiToWei converts a gwei amount to wei.
func GweiToWei(gwei float64) *big.Int {
	w, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9)).Int(nil)
	return w
}

// WeiToGwei converts wei to gwei.
func WeiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	g, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return g
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
