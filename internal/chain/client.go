// Package chain wraps the JSON-RPC node connection and the contract bindings
// used by the engine. Every call runs under a per-call timeout and a circuit
// breaker so a failing node degrades cycles instead of stalling them.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker"
)

// Config holds connection parameters.
type Config struct {
	URL             string
	ChainID         int64
	CallTimeout     time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// ContractCaller is the read-only subset used by contract bindings.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
}

// Client is a breaker-guarded Ethereum JSON-RPC client.
type Client struct {
	eth     *ethclient.Client
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	chainID *big.Int
	logger  *slog.Logger
}

var _ ContractCaller = (*Client)(nil)

// Dial connects to the node at cfg.URL and verifies the chain id when one is
// configured.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.URL, err)
	}
	c := newClient(eth, cfg, logger)

	id, err := do(ctx, c, "chain_id", func(ctx context.Context) (*big.Int, error) {
		return c.eth.ChainID(ctx)
	})
	if err != nil {
		eth.Close()
		return nil, err
	}
	if cfg.ChainID > 0 && id.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: node reports chain id %s, expected %d", id, cfg.ChainID)
	}
	c.chainID = id
	return c, nil
}

func newClient(eth *ethclient.Client, cfg Config, logger *slog.Logger) *Client {
	logger = logger.With(slog.String("component", "chain"))
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	st := gobreaker.Settings{
		Name:    "rpc",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rpc breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &Client{
		eth:     eth,
		breaker: gobreaker.NewCircuitBreaker(st),
		timeout: timeout,
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger,
	}
}

// isSuccessful reports whether err shows the node itself is healthy. A
// pending receipt, a caller cancellation, or a JSON-RPC error response (e.g.
// a revert or "nonce too low") does not count against the breaker.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, ethereum.NotFound) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// do runs fn under the call timeout and the breaker.
func do[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, fmt.Errorf("chain: %s: %w", op, err)
	}
	return out.(T), nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID returns the chain id verified at dial time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// BreakerState returns the current breaker state name.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// SuggestGasPrice returns the node's legacy gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return do(ctx, c, "gas_price", c.eth.SuggestGasPrice)
}

// SuggestGasTipCap returns the node's priority fee suggestion.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return do(ctx, c, "gas_tip_cap", c.eth.SuggestGasTipCap)
}

// LatestBaseFee returns the base fee of the latest header, or nil on
// pre-London chains.
func (c *Client) LatestBaseFee(ctx context.Context) (*big.Int, error) {
	h, err := do(ctx, c, "header", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		return nil, err
	}
	return h.BaseFee, nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return do(ctx, c, "block_number", c.eth.BlockNumber)
}

// CodeAt returns the deployed bytecode at addr on the latest block.
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return do(ctx, c, "code_at", func(ctx context.Context) ([]byte, error) {
		return c.eth.CodeAt(ctx, addr, nil)
	})
}

// CallContract executes a read-only call on the latest block.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return do(ctx, c, "eth_call", func(ctx context.Context) ([]byte, error) {
		return c.eth.CallContract(ctx, msg, nil)
	})
}

// PendingNonceAt returns the account nonce including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return do(ctx, c, "pending_nonce", func(ctx context.Context) (uint64, error) {
		return c.eth.PendingNonceAt(ctx, addr)
	})
}

// BalanceAt returns the native balance of addr on the latest block.
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return do(ctx, c, "balance", func(ctx context.Context) (*big.Int, error) {
		return c.eth.BalanceAt(ctx, addr, nil)
	})
}

// SendTransaction broadcasts a signed transaction to the public mempool.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := do(ctx, c, "send_tx", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.eth.SendTransaction(ctx, tx)
	})
	return err
}

// TransactionReceipt returns the receipt for hash. It returns an error
// wrapping ethereum.NotFound while the transaction is unmined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return do(ctx, c, "receipt", func(ctx context.Context) (*types.Receipt, error) {
		return c.eth.TransactionReceipt(ctx, hash)
	})
}
