// Package venue resolves snapshot venue identifiers to display names and the
// on-chain aggregator's venue type codes.
package venue

import (
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Venue is a resolved venue descriptor.
type Venue struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TypeCode uint8  `json:"type_code"`
}

// Type codes understood by the aggregator contract.
const (
	TypeUniswapV2   uint8 = 0
	TypeUniswapV3   uint8 = 1
	TypeSushiSwap   uint8 = 2
	TypeUniswapV4   uint8 = 3
	TypePancakeSwap uint8 = 4
	TypeBalancer    uint8 = 5
	TypeCurve       uint8 = 6
)

type rule struct {
	match string
	name  string
	code  uint8
}

// rules are checked in order against the normalized id; versioned entries of
// a family come before the bare family name.
var rules = []rule{
	{"uniswapv3", "Uniswap V3", TypeUniswapV3},
	{"sushiswapv3", "SushiSwap V3", TypeUniswapV3},
	{"uniswapv4", "Uniswap V4", TypeUniswapV4},
	{"pancakeswapv3", "PancakeSwap V3", TypePancakeSwap},
	{"pancakeswap", "PancakeSwap", TypePancakeSwap},
	{"balancer", "Balancer", TypeBalancer},
	{"curve", "Curve", TypeCurve},
	{"sushiswap", "SushiSwap", TypeSushiSwap},
	{"uniswapv2", "Uniswap V2", TypeUniswapV2},
	{"uniswap", "Uniswap V2", TypeUniswapV2},
}

// Registry is an immutable venue table built once per cycle. It is safe for
// concurrent reads.
type Registry struct {
	venues map[string]Venue
	ids    []string
}

// NewRegistry resolves every venue id. Resolution never fails: unknown ids
// get a humanized name and type code 0.
func NewRegistry(venueIDs []string, logger *slog.Logger) *Registry {
	r := &Registry{venues: make(map[string]Venue, len(venueIDs))}
	matched := 0
	for _, id := range venueIDs {
		if _, ok := r.venues[id]; ok {
			continue
		}
		v, known := Resolve(id)
		if known {
			matched++
		}
		r.venues[id] = v
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)

	if logger != nil {
		logger.Debug("venue registry built",
			slog.String("component", "venue_registry"),
			slog.Int("venues", len(r.ids)),
			slog.Int("recognized", matched),
		)
	}
	return r
}

// Lookup returns the venue for id. Ids absent from the registry are resolved
// on the fly without being added.
func (r *Registry) Lookup(id string) Venue {
	if v, ok := r.venues[id]; ok {
		return v
	}
	v, _ := Resolve(id)
	return v
}

// Len returns the number of registered venues.
func (r *Registry) Len() int { return len(r.ids) }

// IDs returns the registered venue ids in lexical order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Resolve maps a single venue id to its descriptor. The second return value
// reports whether a curated rule matched.
func Resolve(id string) (Venue, bool) {
	norm := normalize(id)
	for _, rl := range rules {
		if strings.Contains(norm, rl.match) {
			return Venue{ID: id, Name: rl.name, TypeCode: rl.code}, true
		}
	}
	return Venue{ID: id, Name: humanize(id), TypeCode: TypeUniswapV2}, false
}

var stripper = strings.NewReplacer("_", "", "-", "", " ", "")

func normalize(id string) string {
	return stripper.Replace(strings.ToLower(id))
}

var spacer = strings.NewReplacer("_", " ", "-", " ")

func humanize(id string) string {
	return cases.Title(language.English).String(spacer.Replace(id))
}
