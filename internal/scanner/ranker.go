package scanner

import (
	"sort"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Rank returns a new slice ordered by net profit descending. Ties are broken
// by profit percent descending, then by route name ascending, so the order is
// total and reproducible.
func Rank(opps []domain.Opportunity) []domain.Opportunity {
	out := make([]domain.Opportunity, len(opps))
	copy(out, opps)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.NetProfitUSD != b.NetProfitUSD {
			return a.NetProfitUSD > b.NetProfitUSD
		}
		if a.ProfitPercent != b.ProfitPercent {
			return a.ProfitPercent > b.ProfitPercent
		}
		return a.RouteName() < b.RouteName()
	})
	return out
}

// Top returns at most n leading entries of ranked.
func Top(ranked []domain.Opportunity, n int) []domain.Opportunity {
	if n < 0 {
		n = 0
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}
