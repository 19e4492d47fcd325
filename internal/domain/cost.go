package domain

import "math/big"

// Sources reported on a CostSnapshot.
const (
	SourceRPC      = "rpc"
	SourceDefault  = "default"
	SourceFeed     = "price_feed"
	SourceSnapshot = "snapshot_average"
)

// CostSnapshot is the per-cycle cost basis used to net opportunities.
type CostSnapshot struct {
	GasPriceWei *big.Int `json:"gas_price_wei"`
	GasLimit    uint64   `json:"gas_limit"`
	NativeUSD   float64  `json:"native_usd"`
	GasCostUSD  float64  `json:"gas_cost_usd"`
	GasSource   string   `json:"gas_source"`
	PriceSource string   `json:"price_source"`
}

// FeeQuote is the network fee data used to price a dispatched transaction.
type FeeQuote struct {
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}
