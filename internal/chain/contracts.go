package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

// priceDecimals is the fixed-point scale of aggregator quotes.
const priceDecimals = 18

// Aggregator is the on-chain price aggregator binding.
type Aggregator struct{ c contract }

// NewAggregator binds the aggregator at addr.
func NewAggregator(caller ContractCaller, addr common.Address) *Aggregator {
	return &Aggregator{c: contract{caller: caller, address: addr, abi: AggregatorABI}}
}

// Address returns the bound address.
func (a *Aggregator) Address() common.Address { return a.c.address }

// Deployed reports whether bytecode exists at the aggregator address.
func (a *Aggregator) Deployed(ctx context.Context) (bool, error) {
	return a.c.deployed(ctx)
}

// DexName returns the contract's label for a venue type code.
func (a *Aggregator) DexName(ctx context.Context, typeCode uint8) (string, error) {
	out, err := a.c.call(ctx, "getDexName", typeCode)
	if err != nil {
		return "", err
	}
	name, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("chain: getDexName: unexpected type %T", out[0])
	}
	return name, nil
}

// TokenPrice returns the live price of base in quote units on the venue type,
// converted from 18-decimal fixed point.
func (a *Aggregator) TokenPrice(ctx context.Context, base, quote common.Address, typeCode uint8) (float64, error) {
	out, err := a.c.call(ctx, "getTokenPrice", base, quote, typeCode)
	if err != nil {
		return 0, err
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: getTokenPrice: unexpected type %T", out[0])
	}
	return decimal.NewFromBigInt(raw, -priceDecimals).InexactFloat64(), nil
}

// FlashLoan is the flash-loan executor binding.
type FlashLoan struct{ c contract }

// NewFlashLoan binds the flash-loan contract at addr.
func NewFlashLoan(caller ContractCaller, addr common.Address) *FlashLoan {
	return &FlashLoan{c: contract{caller: caller, address: addr, abi: FlashLoanABI}}
}

// Address returns the bound address.
func (f *FlashLoan) Address() common.Address { return f.c.address }

// Deployed reports whether bytecode exists at the contract address.
func (f *FlashLoan) Deployed(ctx context.Context) (bool, error) {
	return f.c.deployed(ctx)
}

// Owner returns the contract owner.
func (f *FlashLoan) Owner(ctx context.Context) (common.Address, error) {
	out, err := f.c.call(ctx, "owner")
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: owner: unexpected type %T", out[0])
	}
	return owner, nil
}

// PackExecute encodes executeFlashLoanSimple(asset, amount) calldata.
func (f *FlashLoan) PackExecute(asset common.Address, amount *big.Int) ([]byte, error) {
	data, err := f.c.abi.Pack("executeFlashLoanSimple", asset, amount)
	if err != nil {
		return nil, fmt.Errorf("chain: pack executeFlashLoanSimple: %w", err)
	}
	return data, nil
}

// ERC20 is a minimal token binding.
type ERC20 struct{ c contract }

// NewERC20 binds the token at addr.
func NewERC20(caller ContractCaller, addr common.Address) *ERC20 {
	return &ERC20{c: contract{caller: caller, address: addr, abi: ERC20ABI}}
}

// Decimals returns the token's decimals.
func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.c.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: decimals: unexpected type %T", out[0])
	}
	return d, nil
}

// Symbol returns the token's symbol.
func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	out, err := t.c.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("chain: symbol: unexpected type %T", out[0])
	}
	return s, nil
}

// BalanceOf returns the raw token balance of account.
func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := t.c.call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	b, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: balanceOf: unexpected type %T", out[0])
	}
	return b, nil
}

// PriceFeed is a Chainlink-style aggregator binding.
type PriceFeed struct{ c contract }

// NewPriceFeed binds the feed at addr.
func NewPriceFeed(caller ContractCaller, addr common.Address) *PriceFeed {
	return &PriceFeed{c: contract{caller: caller, address: addr, abi: PriceFeedABI}}
}

// LatestPrice returns the latest answer scaled by the feed's decimals.
func (p *PriceFeed) LatestPrice(ctx context.Context) (float64, error) {
	out, err := p.c.call(ctx, "latestRoundData")
	if err != nil {
		return 0, err
	}
	if len(out) < 2 {
		return 0, fmt.Errorf("chain: latestRoundData: short result")
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: latestRoundData: unexpected type %T", out[1])
	}
	if answer.Sign() <= 0 {
		return 0, fmt.Errorf("chain: latestRoundData: non-positive answer %s", answer)
	}

	dec, err := p.c.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := dec[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: decimals: unexpected type %T", dec[0])
	}
	return decimal.NewFromBigInt(answer, -int32(d)).InexactFloat64(), nil
}

// Tokens reads ERC20 state for arbitrary token addresses. Decimals are
// immutable and cached per address.
type Tokens struct {
	caller ContractCaller

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewTokens creates a Tokens reader.
func NewTokens(caller ContractCaller) *Tokens {
	return &Tokens{caller: caller, decimals: make(map[common.Address]uint8)}
}

// Decimals returns token's decimals.
func (t *Tokens) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	t.mu.RLock()
	d, ok := t.decimals[token]
	t.mu.RUnlock()
	if ok {
		return d, nil
	}
	d, err := NewERC20(t.caller, token).Decimals(ctx)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.decimals[token] = d
	t.mu.Unlock()
	return d, nil
}

// BalanceOf returns account's raw balance of token.
func (t *Tokens) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return NewERC20(t.caller, token).BalanceOf(ctx, account)
}

// WarmDecimals resolves decimals for every token with at most parallel
// lookups in flight. It returns how many were resolved and the joined
// lookup errors; a failed token is simply retried on first use.
func (t *Tokens) WarmDecimals(ctx context.Context, tokens []common.Address, parallel int64) (int, error) {
	if parallel < 1 {
		parallel = 1
	}
	sem := semaphore.NewWeighted(parallel)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		loaded int
		errs   []error
	)
	for _, tok := range tokens {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs = append(errs, err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			_, err := t.Decimals(ctx, tok)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", tok.Hex(), err))
				return
			}
			loaded++
		}()
	}
	wg.Wait()
	return loaded, errors.Join(errs...)
}
