package domain

import "strings"

// PricePoint is one directional quote: the price of BaseToken in units of
// QuoteToken at a single pool.
type PricePoint struct {
	Venue         string  `json:"venue"`
	BaseToken     string  `json:"base_token"`
	BaseSymbol    string  `json:"base_symbol"`
	QuoteToken    string  `json:"quote_token"`
	QuoteSymbol   string  `json:"quote_symbol"`
	Price         float64 `json:"price"`
	LiquidityUSD  float64 `json:"liquidity_usd"`
	PoolAddress   string  `json:"pool_address"`
	VenueTypeCode uint8   `json:"venue_type_code"`
}

// PairKey returns the unordered key for a token pair: the two lowercase
// addresses sorted and joined with "_".
func PairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// Key returns the pair key of the point's token pair.
func (p PricePoint) Key() string {
	return PairKey(p.BaseToken, p.QuoteToken)
}

// PairGroup collects every PricePoint (both directions, all venues) quoted
// for one unordered token pair.
type PairGroup struct {
	Key    string
	Points []PricePoint
}

// VenueCount returns the number of distinct venues in the group.
func (g PairGroup) VenueCount() int {
	seen := make(map[string]struct{}, len(g.Points))
	for _, p := range g.Points {
		seen[p.Venue] = struct{}{}
	}
	return len(seen)
}
