package pricing

import "github.com/alanyoungcy/flasharb/internal/domain"

// Aggregate groups points by unordered token pair in a single pass. Groups are
// returned in the order their key was first seen; groups with fewer than two
// points are kept.
func Aggregate(points []domain.PricePoint) []domain.PairGroup {
	index := make(map[string]int)
	groups := make([]domain.PairGroup, 0)
	for _, p := range points {
		key := p.Key()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, domain.PairGroup{Key: key})
		}
		groups[i].Points = append(groups[i].Points, p)
	}
	return groups
}
