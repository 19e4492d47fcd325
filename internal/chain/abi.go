package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const aggregatorABIJSON = `[
  {"type":"function","name":"getTokenPrice","stateMutability":"view",
   "inputs":[{"name":"token1","type":"address"},{"name":"token2","type":"address"},{"name":"dexType","type":"uint8"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getDexName","stateMutability":"view",
   "inputs":[{"name":"dexType","type":"uint8"}],
   "outputs":[{"name":"","type":"string"}]}
]`

const flashLoanABIJSON = `[
  {"type":"function","name":"executeFlashLoanSimple","stateMutability":"nonpayable",
   "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"owner","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"address"}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const priceFeedABIJSON = `[
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	AggregatorABI = mustABI(aggregatorABIJSON)
	FlashLoanABI  = mustABI(flashLoanABIJSON)
	ERC20ABI      = mustABI(erc20ABIJSON)
	PriceFeedABI  = mustABI(priceFeedABIJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// contract binds an ABI to an address for read-only calls.
type contract struct {
	caller  ContractCaller
	address common.Address
	abi     abi.ABI
}

func (c contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	to := c.address
	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s returned no values", method)
	}
	return out, nil
}

// deployed reports whether bytecode exists at the bound address.
func (c contract) deployed(ctx context.Context) (bool, error) {
	code, err := c.caller.CodeAt(ctx, c.address)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}
