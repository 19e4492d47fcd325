// Package scanner finds and ranks cross-venue price discrepancies.
package scanner

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Params is the opportunity model. TradeSizeFraction and RealizationFactor
// are empirical heuristics.
type Params struct {
	TopK               int
	MaxSlippagePercent float64
	MinProfitPercent   float64
	TradeSizeFraction  float64
	RealizationFactor  float64
	FlashLoanFeeRate   float64
	Stablecoins        []string
}

// opportunityNS scopes deterministic opportunity ids.
var opportunityNS = uuid.MustParse("6f1c1d8e-3b0a-4f5e-9a77-2c1e6b9d4a10")

// Scan evaluates every group with at least two points. A group holds both
// quote directions of a pair, so points are first split by direction; within
// each direction the K cheapest quotes are paired with the K richest, and
// pairs on the same venue are skipped. The result is a flat, unranked list.
func Scan(groups []domain.PairGroup, cost domain.CostSnapshot, p Params, now time.Time) []domain.Opportunity {
	var out []domain.Opportunity
	for _, g := range groups {
		if len(g.Points) < 2 {
			continue
		}
		for _, dir := range byDirection(g.Points) {
			if len(dir) < 2 {
				continue
			}
			buys := sortedPoints(dir, true)
			sells := sortedPoints(dir, false)
			k := p.TopK
			if k <= 0 || k > len(buys) {
				k = len(buys)
			}

			for _, buy := range buys[:k] {
				for _, sell := range sells[:k] {
					if buy.Venue == sell.Venue {
						continue
					}
					pct := ProfitPercent(buy.Price, sell.Price, p.MaxSlippagePercent)
					if pct <= p.MinProfitPercent {
						continue
					}
					out = append(out, build(g.Key, buy, sell, pct, cost, p, now))
				}
			}
		}
	}
	return out
}

// byDirection splits points by (base, quote) orientation, ordered by
// orientation key.
func byDirection(points []domain.PricePoint) [][]domain.PricePoint {
	idx := map[string]int{}
	var keys []string
	var dirs [][]domain.PricePoint
	for _, pt := range points {
		key := pt.BaseToken + "/" + pt.QuoteToken
		i, ok := idx[key]
		if !ok {
			i = len(dirs)
			idx[key] = i
			keys = append(keys, key)
			dirs = append(dirs, nil)
		}
		dirs[i] = append(dirs[i], pt)
	}
	order := make([]int, len(dirs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	out := make([][]domain.PricePoint, len(dirs))
	for i, j := range order {
		out[i] = dirs[j]
	}
	return out
}

// ProfitPercent applies the symmetric slippage haircut to both legs and
// returns the percentage spread of the effective prices.
func ProfitPercent(buyPrice, sellPrice, slippagePercent float64) float64 {
	effBuy := buyPrice * (1 + slippagePercent/100)
	effSell := sellPrice * (1 - slippagePercent/100)
	if effBuy <= 0 {
		return 0
	}
	return (effSell - effBuy) / effBuy * 100
}

func build(pairKey string, buy, sell domain.PricePoint, pct float64, cost domain.CostSnapshot, p Params, now time.Time) domain.Opportunity {
	tradeSize := min(buy.LiquidityUSD, sell.LiquidityUSD) * p.TradeSizeFraction
	gross := tradeSize * pct / 100 * p.RealizationFactor
	fee := tradeSize * p.FlashLoanFeeRate

	o := domain.Opportunity{
		TokenPair:       pairKey,
		BaseToken:       buy.BaseToken,
		BaseSymbol:      buy.BaseSymbol,
		QuoteToken:      buy.QuoteToken,
		QuoteSymbol:     buy.QuoteSymbol,
		BuyVenue:        buy.Venue,
		SellVenue:       sell.Venue,
		BuyVenueType:    buy.VenueTypeCode,
		SellVenueType:   sell.VenueTypeCode,
		BuyPool:         buy.PoolAddress,
		SellPool:        sell.PoolAddress,
		BuyPrice:        buy.Price,
		SellPrice:       sell.Price,
		ProfitPercent:   pct,
		TradeSizeUSD:    tradeSize,
		GrossProfitUSD:  gross,
		GasCostUSD:      cost.GasCostUSD,
		FlashLoanFeeUSD: fee,
		NetProfitUSD:    gross - cost.GasCostUSD - fee,
		DetectedAt:      now,
	}

	half := decimal.NewFromFloat(tradeSize).Div(decimal.NewFromInt(2))
	if isStable(p.Stablecoins, buy.QuoteSymbol) {
		o.FlashLoanAsset = buy.QuoteToken
		o.FlashLoanAssetSymbol = buy.QuoteSymbol
		o.FlashLoanAmount = half.StringFixed(2)
	} else {
		o.FlashLoanAsset = buy.BaseToken
		o.FlashLoanAssetSymbol = buy.BaseSymbol
		o.FlashLoanAmount = half.Div(decimal.NewFromFloat(buy.Price)).StringFixed(6)
	}

	seed := o.RouteName() + "|" + o.BuyPool + "|" + o.SellPool + "@" + now.UTC().Format(time.RFC3339Nano)
	o.ID = uuid.NewSHA1(opportunityNS, []byte(seed)).String()
	return o
}

// sortedPoints returns a stably sorted copy: ascending by price for buys,
// descending for sells.
func sortedPoints(points []domain.PricePoint, ascending bool) []domain.PricePoint {
	out := make([]domain.PricePoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Price < out[j].Price
		}
		return out[i].Price > out[j].Price
	})
	return out
}

func isStable(stables []string, symbol string) bool {
	for _, s := range stables {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}
