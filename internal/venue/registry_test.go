package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCuratedVenues(t *testing.T) {
	cases := []struct {
		id   string
		name string
		code uint8
	}{
		{"uniswap_v2", "Uniswap V2", TypeUniswapV2},
		{"uniswap_v3", "Uniswap V3", TypeUniswapV3},
		{"uniswap-v4-ethereum", "Uniswap V4", TypeUniswapV4},
		{"sushiswap", "SushiSwap", TypeSushiSwap},
		{"sushiswap-v3-ethereum", "SushiSwap V3", TypeUniswapV3},
		{"pancakeswap_ethereum", "PancakeSwap", TypePancakeSwap},
		{"pancakeswap-v3-ethereum", "PancakeSwap V3", TypePancakeSwap},
		{"balancer_ethereum", "Balancer", TypeBalancer},
		{"curve", "Curve", TypeCurve},
		{"Uniswap V3", "Uniswap V3", TypeUniswapV3},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			v, known := Resolve(tc.id)
			assert.True(t, known)
			assert.Equal(t, tc.id, v.ID)
			assert.Equal(t, tc.name, v.Name)
			assert.Equal(t, tc.code, v.TypeCode)
		})
	}
}

func TestResolveUnknownVenue(t *testing.T) {
	v, known := Resolve("solidly_v2-ethereum")
	assert.False(t, known)
	assert.Equal(t, "Solidly V2 Ethereum", v.Name)
	assert.Equal(t, uint8(0), v.TypeCode)
}

func TestRegistryIsDeduplicatedAndSorted(t *testing.T) {
	r := NewRegistry([]string{"curve", "balancer_ethereum", "curve"}, nil)
	require.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"balancer_ethereum", "curve"}, r.IDs())
	assert.Equal(t, "Curve", r.Lookup("curve").Name)

	// Lookup of an unregistered id still resolves without growing the table.
	assert.Equal(t, TypeSushiSwap, r.Lookup("sushiswap").TypeCode)
	assert.Equal(t, 2, r.Len())

	ids := r.IDs()
	ids[0] = "mutated"
	assert.Equal(t, "balancer_ethereum", r.IDs()[0])
}
