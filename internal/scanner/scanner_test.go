package scanner

import (
	"testing"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultParams() Params {
	return Params{
		TopK:               3,
		MaxSlippagePercent: 0.2,
		MinProfitPercent:   0.001,
		TradeSizeFraction:  0.003,
		RealizationFactor:  0.8,
		FlashLoanFeeRate:   0.0005,
		Stablecoins:        []string{"USDC", "USDT", "DAI"},
	}
}

func point(venue string, price, liq float64) domain.PricePoint {
	return domain.PricePoint{
		Venue:        venue,
		BaseToken:    "0xweth",
		BaseSymbol:   "WETH",
		QuoteToken:   "0xusdc",
		QuoteSymbol:  "USDC",
		Price:        price,
		LiquidityUSD: liq,
		PoolAddress:  "0xpool-" + venue,
	}
}

func inverse(p domain.PricePoint) domain.PricePoint {
	p.BaseToken, p.QuoteToken = p.QuoteToken, p.BaseToken
	p.BaseSymbol, p.QuoteSymbol = p.QuoteSymbol, p.BaseSymbol
	p.Price = 1 / p.Price
	return p
}

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func TestScanReferenceScenario(t *testing.T) {
	a := point("uniswap_v3", 100, 1_000_000)
	b := point("sushiswap", 110, 1_000_000)
	groups := pricing.Aggregate([]domain.PricePoint{a, inverse(a), b, inverse(b)})
	cost := domain.CostSnapshot{GasCostUSD: 10}

	opps := Scan(groups, cost, defaultParams(), now)

	// The inverse direction (USDC priced in WETH) is also profitable buying on
	// sushiswap; pick the WETH/USDC leg.
	var o domain.Opportunity
	for _, c := range opps {
		if c.BaseToken == "0xweth" {
			o = c
		}
	}
	require.NotEmpty(t, o.ID)

	assert.Equal(t, "uniswap_v3", o.BuyVenue)
	assert.Equal(t, "sushiswap", o.SellVenue)
	// effective 100.2 and 109.78.
	assert.InDelta(t, (109.78-100.2)/100.2*100, o.ProfitPercent, 1e-9)
	assert.InDelta(t, 9.5409, o.ProfitPercent, 1e-4)
	assert.InDelta(t, 3000, o.TradeSizeUSD, 1e-9)
	assert.InDelta(t, 3000*o.ProfitPercent/100*0.8, o.GrossProfitUSD, 1e-9)
	assert.InDelta(t, 1.5, o.FlashLoanFeeUSD, 1e-12)
	assert.Equal(t, o.GrossProfitUSD-o.GasCostUSD-o.FlashLoanFeeUSD, o.NetProfitUSD)

	assert.Equal(t, "0xusdc", o.FlashLoanAsset)
	assert.Equal(t, "USDC", o.FlashLoanAssetSymbol)
	assert.Equal(t, "1500.00", o.FlashLoanAmount)
	assert.Equal(t, "0xusdc_0xweth", o.TokenPair)
}

func TestScanInvariants(t *testing.T) {
	points := []domain.PricePoint{
		point("a", 100, 50_000),
		point("b", 101, 80_000),
		point("c", 103, 20_000),
		point("d", 99, 90_000),
		point("a", 104, 50_000), // second pool on venue a
	}
	for i := range 4 {
		points = append(points, inverse(points[i]))
	}
	opps := Scan(pricing.Aggregate(points), domain.CostSnapshot{GasCostUSD: 2}, defaultParams(), now)
	require.NotEmpty(t, opps)

	seen := map[string]bool{}
	for _, o := range opps {
		assert.NotEqual(t, o.BuyVenue, o.SellVenue)
		assert.Greater(t, o.ProfitPercent, 0.001)
		assert.Equal(t, o.GrossProfitUSD-o.GasCostUSD-o.FlashLoanFeeUSD, o.NetProfitUSD)
		assert.False(t, seen[o.ID], "ids must be unique")
		seen[o.ID] = true
	}
}

func TestScanFindsBothDirectionsWithManyVenues(t *testing.T) {
	var points []domain.PricePoint
	for _, p := range []domain.PricePoint{
		point("a", 100, 1e6),
		point("b", 105, 1e6),
		point("c", 102, 1e6),
		point("d", 101, 1e6),
	} {
		points = append(points, p, inverse(p))
	}
	opps := Scan(pricing.Aggregate(points), domain.CostSnapshot{}, defaultParams(), now)

	routes := map[string]bool{}
	var direct, inverted int
	for _, o := range opps {
		routes[o.BaseSymbol+":"+o.BuyVenue+">"+o.SellVenue] = true
		if o.BaseToken == "0xweth" {
			direct++
		} else {
			inverted++
		}
	}
	assert.True(t, routes["WETH:a>b"], "cheapest-to-richest WETH route must survive top-K selection")
	assert.True(t, routes["USDC:b>a"], "the inverse quote direction is scanned on its own")
	assert.Positive(t, direct)
	assert.Positive(t, inverted)
	// Top 3 per direction: at most 3x3 minus the same-venue pairs.
	assert.LessOrEqual(t, direct, 6)
	assert.LessOrEqual(t, inverted, 6)
}

func TestScanSkipsSameVenueAndFlatSpreads(t *testing.T) {
	same := []domain.PricePoint{point("a", 100, 1e6), point("a", 120, 1e6)}
	assert.Empty(t, Scan(pricing.Aggregate(same), domain.CostSnapshot{}, defaultParams(), now))

	flat := []domain.PricePoint{point("a", 100, 1e6), point("b", 100.3, 1e6)}
	assert.Empty(t, Scan(pricing.Aggregate(flat), domain.CostSnapshot{}, defaultParams(), now),
		"a 0.3% spread does not survive 0.2% slippage on each leg")

	single := []domain.PricePoint{point("a", 100, 1e6)}
	assert.Empty(t, Scan(pricing.Aggregate(single), domain.CostSnapshot{}, defaultParams(), now))
}

func TestScanNonStableFlashAsset(t *testing.T) {
	a := point("a", 0.0005, 1e6)
	a.QuoteSymbol, a.QuoteToken = "WBTC", "0xwbtc"
	b := a
	b.Venue, b.Price = "b", 0.0006

	opps := Scan(pricing.Aggregate([]domain.PricePoint{a, b}), domain.CostSnapshot{}, defaultParams(), now)
	require.Len(t, opps, 1)
	assert.Equal(t, "0xweth", opps[0].FlashLoanAsset)
	// 3000 / 0.0005 / 2
	assert.Equal(t, "3000000.000000", opps[0].FlashLoanAmount)
}

func TestScanIsDeterministic(t *testing.T) {
	points := []domain.PricePoint{point("a", 100, 1e6), point("b", 105, 1e6), point("c", 102, 1e6)}
	groups := pricing.Aggregate(points)
	assert.Equal(t, Scan(groups, domain.CostSnapshot{}, defaultParams(), now), Scan(groups, domain.CostSnapshot{}, defaultParams(), now))
}

func TestRankOrderAndTieBreak(t *testing.T) {
	opps := []domain.Opportunity{
		{BuyVenue: "b", SellVenue: "c", TokenPair: "x", NetProfitUSD: 5, ProfitPercent: 1},
		{BuyVenue: "a", SellVenue: "c", TokenPair: "x", NetProfitUSD: 5, ProfitPercent: 1},
		{BuyVenue: "a", SellVenue: "b", TokenPair: "x", NetProfitUSD: 5, ProfitPercent: 2},
		{BuyVenue: "z", SellVenue: "y", TokenPair: "x", NetProfitUSD: 9, ProfitPercent: 0.5},
		{BuyVenue: "q", SellVenue: "r", TokenPair: "x", NetProfitUSD: -1, ProfitPercent: 3},
	}
	ranked := Rank(opps)
	require.Len(t, ranked, 5)

	routes := make([]string, len(ranked))
	for i, o := range ranked {
		routes[i] = o.RouteName()
	}
	assert.Equal(t, []string{"z>y:x", "a>b:x", "a>c:x", "b>c:x", "q>r:x"}, routes)

	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].NetProfitUSD, ranked[i].NetProfitUSD)
	}
	// Input is untouched.
	assert.Equal(t, "b", opps[0].BuyVenue)
	// Ranking is idempotent.
	assert.Equal(t, ranked, Rank(ranked))
}

func TestTop(t *testing.T) {
	opps := []domain.Opportunity{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	assert.Len(t, Top(opps, 2), 2)
	assert.Len(t, Top(opps, 10), 3)
	assert.Empty(t, Top(opps, -1))
	assert.Empty(t, Top(nil, 5))
}
