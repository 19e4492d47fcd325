package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller answers eth_call by method selector.
type fakeCaller struct {
	mu      sync.Mutex
	abi     abi.ABI
	results map[string][]any
	code    []byte
	err     error
	calls   []string
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, m.Name)
	f.mu.Unlock()
	vals, ok := f.results[m.Name]
	if !ok {
		return nil, fmt.Errorf("no result for %s", m.Name)
	}
	return m.Outputs.Pack(vals...)
}

func (f *fakeCaller) CodeAt(context.Context, common.Address) ([]byte, error) {
	return f.code, f.err
}

func TestAggregatorTokenPrice(t *testing.T) {
	px, _ := new(big.Int).SetString("3001250000000000000000", 10)
	fc := &fakeCaller{
		abi: AggregatorABI,
		results: map[string][]any{
			"getTokenPrice": {px},
			"getDexName":    {"UniswapV3"},
		},
		code: []byte{0x60, 0x80},
	}
	agg := NewAggregator(fc, common.HexToAddress("0x01"))

	ok, err := agg.Deployed(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	name, err := agg.DexName(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "UniswapV3", name)

	got, err := agg.TokenPrice(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), 1)
	require.NoError(t, err)
	assert.InDelta(t, 3001.25, got, 1e-9)
}

func TestAggregatorNotDeployed(t *testing.T) {
	agg := NewAggregator(&fakeCaller{abi: AggregatorABI}, common.HexToAddress("0x01"))
	ok, err := agg.Deployed(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPriceFeedLatestPrice(t *testing.T) {
	fc := &fakeCaller{
		abi: PriceFeedABI,
		results: map[string][]any{
			"latestRoundData": {big.NewInt(1), big.NewInt(312345000000), big.NewInt(0), big.NewInt(0), big.NewInt(1)},
			"decimals":        {uint8(8)},
		},
	}
	px, err := NewPriceFeed(fc, common.HexToAddress("0x02")).LatestPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3123.45, px, 1e-9)
	assert.Equal(t, []string{"latestRoundData", "decimals"}, fc.calls)

	fc.results["latestRoundData"][1] = big.NewInt(0)
	_, err = NewPriceFeed(fc, common.HexToAddress("0x02")).LatestPrice(context.Background())
	require.Error(t, err)
}

func TestERC20AndFlashLoan(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	fc := &fakeCaller{
		abi: ERC20ABI,
		results: map[string][]any{
			"decimals":  {uint8(6)},
			"symbol":    {"USDC"},
			"balanceOf": {big.NewInt(1_500_000)},
		},
	}
	tok := NewERC20(fc, common.HexToAddress("0x03"))
	d, err := tok.Decimals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(6), d)
	sym, err := tok.Symbol(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USDC", sym)
	bal, err := tok.BalanceOf(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), bal.Int64())

	fl := NewFlashLoan(&fakeCaller{abi: FlashLoanABI, results: map[string][]any{"owner": {owner}}}, common.HexToAddress("0x04"))
	got, err := fl.Owner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	data, err := fl.PackExecute(common.HexToAddress("0x03"), big.NewInt(42))
	require.NoError(t, err)
	m, err := FlashLoanABI.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "executeFlashLoanSimple", m.Name)
	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(42), args[1].(*big.Int).Int64())
}

func TestCallErrorsAreWrapped(t *testing.T) {
	boom := errors.New("boom")
	agg := NewAggregator(&fakeCaller{abi: AggregatorABI, err: boom}, common.HexToAddress("0x01"))
	_, err := agg.TokenPrice(context.Background(), common.Address{}, common.Address{}, 0)
	require.ErrorIs(t, err, boom)
}

type jsonRPCError struct{}

func (jsonRPCError) Error() string  { return "execution reverted" }
func (jsonRPCError) ErrorCode() int { return 3 }

func TestBreakerSuccessClassification(t *testing.T) {
	assert.True(t, isSuccessful(nil))
	assert.True(t, isSuccessful(ethereum.NotFound))
	assert.True(t, isSuccessful(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, isSuccessful(jsonRPCError{}))
	assert.False(t, isSuccessful(errors.New("connection refused")))
	assert.False(t, isSuccessful(context.DeadlineExceeded))
}

func TestTokensWarmDecimalsCaches(t *testing.T) {
	fc := &fakeCaller{abi: ERC20ABI, results: map[string][]any{"decimals": {uint8(18)}}}
	toks := NewTokens(fc)
	addrs := []common.Address{
		common.HexToAddress("0x0a"),
		common.HexToAddress("0x0b"),
		common.HexToAddress("0x0c"),
	}

	n, err := toks.WarmDecimals(context.Background(), addrs, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, fc.calls, 3)

	d, err := toks.Decimals(context.Background(), addrs[1])
	require.NoError(t, err)
	assert.Equal(t, uint8(18), d)
	assert.Len(t, fc.calls, 3, "cached decimals are not re-read")
}

func TestTokensWarmDecimalsJoinsErrors(t *testing.T) {
	fc := &fakeCaller{abi: ERC20ABI, err: errors.New("rpc down")}
	n, err := NewTokens(fc).WarmDecimals(context.Background(), []common.Address{common.HexToAddress("0x0a")}, 4)
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "rpc down")
}
