// Package pricing turns snapshot pool records into directional price points
// and groups them by token pair.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// Extract produces two PricePoints (direct and inverse) for every valid pool
// in snap whose reserve is at least minLiquidityUSD. Venues are visited in
// lexical order and pools in document order, so the output is deterministic.
// Rejected pools are counted in the returned stats; nothing else is mutated.
func Extract(snap domain.Snapshot, reg *venue.Registry, minLiquidityUSD float64) ([]domain.PricePoint, domain.ExtractStats) {
	var stats domain.ExtractStats
	tokens := snap.TokenDirectory()
	points := make([]domain.PricePoint, 0, 2*snap.PoolCount())

	for _, venueID := range snap.VenueIDs() {
		v := reg.Lookup(venueID)
		for _, pool := range snap[venueID].Data {
			stats.Pools++

			attrs := pool.Attributes
			if pool.ID == "" || attrs == nil {
				stats.SkippedMalformed++
				continue
			}
			reserve, ok := parsePositive(attrs.ReserveInUSD, true)
			if !ok {
				stats.SkippedMalformed++
				continue
			}
			if reserve < minLiquidityUSD {
				stats.SkippedLiquidity++
				continue
			}
			if !strings.Contains(attrs.Name, "/") {
				stats.SkippedName++
				continue
			}

			baseID := pool.Relationships.BaseToken.RefID()
			quoteID := pool.Relationships.QuoteToken.RefID()
			base, okBase := tokens[baseID]
			quote, okQuote := tokens[quoteID]
			if baseID == "" || quoteID == "" || !okBase || !okQuote {
				stats.SkippedToken++
				continue
			}

			basePrice, okB := parsePositive(attrs.BaseTokenPriceUSD, false)
			quotePrice, okQ := parsePositive(attrs.QuoteTokenPriceUSD, false)
			if !okB || !okQ {
				stats.SkippedPrice++
				continue
			}
			direct := basePrice / quotePrice

			baseAddr := domain.TokenAddress(baseID)
			quoteAddr := domain.TokenAddress(quoteID)
			poolAddr := strings.ToLower(attrs.Address)

			points = append(points,
				domain.PricePoint{
					Venue:         venueID,
					BaseToken:     baseAddr,
					BaseSymbol:    base.Attributes.Symbol,
					QuoteToken:    quoteAddr,
					QuoteSymbol:   quote.Attributes.Symbol,
					Price:         direct,
					LiquidityUSD:  reserve,
					PoolAddress:   poolAddr,
					VenueTypeCode: v.TypeCode,
				},
				domain.PricePoint{
					Venue:         venueID,
					BaseToken:     quoteAddr,
					BaseSymbol:    quote.Attributes.Symbol,
					QuoteToken:    baseAddr,
					QuoteSymbol:   base.Attributes.Symbol,
					Price:         1 / direct,
					LiquidityUSD:  reserve,
					PoolAddress:   poolAddr,
					VenueTypeCode: v.TypeCode,
				},
			)
			stats.Accepted++
		}
	}
	return points, stats
}

// parsePositive parses a decimal string. allowZero admits 0 (reserves);
// prices must be strictly positive.
func parsePositive(s string, allowZero bool) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return 0, false
	}
	if d.IsZero() && !allowZero {
		return 0, false
	}
	return d.InexactFloat64(), true
}
