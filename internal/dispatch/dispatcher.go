// Package dispatch builds, signs, broadcasts, and confirms the flash-loan
// transaction for an approved opportunity.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// Backend is the public node connection.
type Backend interface {
	ChainID() *big.Int
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

// FeeSource prices the transaction.
type FeeSource interface {
	FeeQuote(ctx context.Context) (domain.FeeQuote, error)
}

// TokenReader reads ERC20 metadata and balances.
type TokenReader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// Executor encodes the flash-loan entry point.
type Executor interface {
	Address() common.Address
	PackExecute(asset common.Address, amount *big.Int) ([]byte, error)
}

// Signer signs transactions for the executing account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Relay is a private submission channel.
type Relay interface {
	Name() string
	SendBundle(ctx context.Context, txs []hexutil.Bytes, targetBlock uint64) error
}

// Params configures dispatch.
type Params struct {
	GasLimit      uint64
	MaxGasPrice   *big.Int
	TargetBlocks  int
	MaxWaitBlocks int
	PollInterval  time.Duration
	LockTTL       time.Duration
	// BlockTime is the expected block interval. The confirmation wait also
	// ends after MaxWaitBlocks*BlockTime of wall-clock time, so a stalled
	// chain or a failing head RPC still yields UNKNOWN.
	BlockTime time.Duration
}

// defaultBlockTime is the post-merge Ethereum slot time.
const defaultBlockTime = 12 * time.Second

// Dispatcher runs the dispatch state machine. A single Dispatcher may be
// shared across cycles; concurrent dispatches are serialized by the lock.
type Dispatcher struct {
	backend  Backend
	fees     FeeSource
	tokens   TokenReader
	executor Executor
	signer   Signer
	relay    Relay // nil disables the private channel
	locks    domain.LockManager
	inflight *Inflight
	params   Params
	logger   *slog.Logger
}

// New creates a Dispatcher. relay and locks may be nil.
func New(backend Backend, fees FeeSource, tokens TokenReader, executor Executor, signer Signer,
	relay Relay, locks domain.LockManager, inflight *Inflight, params Params, logger *slog.Logger) *Dispatcher {
	if params.TargetBlocks < 1 {
		params.TargetBlocks = 1
	}
	if params.MaxWaitBlocks < 1 {
		params.MaxWaitBlocks = 1
	}
	if params.PollInterval <= 0 {
		params.PollInterval = 2 * time.Second
	}
	if params.BlockTime <= 0 {
		params.BlockTime = defaultBlockTime
	}
	return &Dispatcher{
		backend:  backend,
		fees:     fees,
		tokens:   tokens,
		executor: executor,
		signer:   signer,
		relay:    relay,
		locks:    locks,
		inflight: inflight,
		params:   params,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// lockKey serializes dispatch across processes.
const lockKey = "dispatch"

// Dispatch executes opp and returns rec updated with the outcome. It never
// retries within a call; a failed submission is left to the next cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, rec domain.ExecutionDecision, opp domain.Opportunity) domain.ExecutionDecision {
	if !d.inflight.Begin(opp.ID) {
		return d.reject(rec, domain.ErrDuplicate)
	}
	defer d.inflight.Done(opp.ID)

	if d.locks != nil {
		unlock, err := d.locks.Acquire(ctx, lockKey, d.params.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return d.reject(rec, fmt.Errorf("%w: %v", domain.ErrDuplicate, err))
		case err != nil:
			return d.rejectAs(rec, domain.ReasonSubmissionFailed, fmt.Errorf("%w: acquire lock: %w", domain.ErrSubmission, err))
		}
		defer unlock()
	}

	r := &run{d: d, rec: rec, opp: opp, log: d.logger.With(slog.String("opportunity_id", opp.ID))}
	r.execute(ctx)

	now := time.Now()
	r.rec.CompletedAt = &now
	metrics.DispatchOutcomes.WithLabelValues(string(r.rec.Status)).Inc()
	return r.rec
}

func (d *Dispatcher) reject(rec domain.ExecutionDecision, err error) domain.ExecutionDecision {
	return d.rejectAs(rec, domain.ReasonDuplicate, err)
}

func (d *Dispatcher) rejectAs(rec domain.ExecutionDecision, reason domain.Reason, err error) domain.ExecutionDecision {
	d.logger.Warn("dispatch skipped",
		slog.String("opportunity_id", rec.OpportunityID),
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()),
	)
	rec.Approved = false
	rec.Status = domain.ExecRejected
	rec.Reason = reason
	rec.Error = err.Error()
	return rec
}

// run holds the state of a single dispatch.
type run struct {
	d   *Dispatcher
	rec domain.ExecutionDecision
	opp domain.Opportunity
	log *slog.Logger

	asset       common.Address
	decimals    uint8
	nativeStart *big.Int
	tokenStart  *big.Int
}

func (r *run) transition(s domain.DispatchState) {
	r.rec.States = append(r.rec.States, s)
	r.log.Info("dispatch state", slog.String("state", string(s)))
}

func (r *run) fail(reason domain.Reason, err error) {
	r.transition(domain.StateFailed)
	r.rec.Status = domain.ExecFailed
	r.rec.Reason = reason
	r.rec.Error = err.Error()
	r.log.Error("dispatch failed", slog.String("reason", string(reason)), slog.String("error", err.Error()))
}

func (r *run) execute(ctx context.Context) {
	d := r.d

	// BUILD
	r.transition(domain.StateBuild)
	tx, err := r.build(ctx)
	if err != nil {
		r.fail(domain.ReasonSubmissionFailed, fmt.Errorf("%w: build: %v", domain.ErrSubmission, err))
		return
	}

	// SIGN
	r.transition(domain.StateSign)
	signed, err := d.signer.SignTx(tx)
	if err != nil {
		r.fail(domain.ReasonSubmissionFailed, err)
		return
	}
	nonce := signed.Nonce()
	r.rec.Nonce = &nonce
	r.rec.TxHash = signed.Hash().Hex()
	raw, err := signed.MarshalBinary()
	if err != nil {
		r.fail(domain.ReasonSubmissionFailed, fmt.Errorf("%w: encode: %v", domain.ErrSubmission, err))
		return
	}

	// BROADCAST
	r.transition(domain.StateBroadcast)
	startBlock, err := d.backend.BlockNumber(ctx)
	if err != nil {
		r.fail(domain.ReasonSubmissionFailed, fmt.Errorf("%w: block number: %v", domain.ErrSubmission, err))
		return
	}
	b := r.broadcast(ctx, signed, raw, startBlock)
	if !b.waitAccepted() {
		b.stop()
		r.rec.Channels = b.results()
		r.fail(domain.ReasonSubmissionFailed, fmt.Errorf("%w: all channels rejected the transaction", domain.ErrSubmission))
		return
	}

	// AWAIT_CONFIRM
	r.transition(domain.StateAwaitConfirm)
	receipt, err := r.await(ctx, signed.Hash(), startBlock)
	b.stop()
	r.rec.Channels = b.results()

	switch {
	case receipt == nil:
		r.transition(domain.StateUnknown)
		r.rec.Status = domain.ExecUnknown
		r.rec.Reason = domain.ReasonConfirmTimeout
		r.rec.Error = err.Error()
		r.log.Warn("confirmation not observed; transaction may still be mined",
			slog.String("tx_hash", r.rec.TxHash), slog.String("error", err.Error()))
	case receipt.Status == types.ReceiptStatusSuccessful:
		r.transition(domain.StateSettled)
		r.rec.Status = domain.ExecSettled
		r.rec.Reason = domain.ReasonIncluded
	default:
		r.transition(domain.StateFailed)
		r.rec.Status = domain.ExecFailed
		r.rec.Reason = domain.ReasonReverted
		r.rec.Error = "transaction reverted"
	}
	if receipt != nil {
		block := receipt.BlockNumber.Uint64()
		r.rec.ConfirmedBlock = &block
		r.rec.GasUsed = receipt.GasUsed
		r.recordDeltas(ctx)
	}
}

// build assembles the unsigned transaction and snapshots starting balances.
func (r *run) build(ctx context.Context) (*types.Transaction, error) {
	d := r.d
	if !common.IsHexAddress(r.opp.FlashLoanAsset) {
		return nil, fmt.Errorf("invalid flash loan asset %q", r.opp.FlashLoanAsset)
	}
	r.asset = common.HexToAddress(r.opp.FlashLoanAsset)

	dec, err := d.tokens.Decimals(ctx, r.asset)
	if err != nil {
		return nil, fmt.Errorf("asset decimals: %w", err)
	}
	r.decimals = dec
	amount, err := ToBaseUnits(r.opp.FlashLoanAmount, dec)
	if err != nil {
		return nil, err
	}

	data, err := d.executor.PackExecute(r.asset, amount)
	if err != nil {
		return nil, err
	}

	fees, err := d.fees.FeeQuote(ctx)
	if err != nil {
		return nil, err
	}
	feeCap, tip := boundFees(fees, d.params.MaxGasPrice)

	from := d.signer.Address()
	nonce, err := d.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	if bal, err := d.backend.BalanceAt(ctx, from); err == nil {
		r.nativeStart = bal
	} else {
		r.log.Warn("native balance unavailable", slog.String("error", err.Error()))
	}
	if bal, err := d.tokens.BalanceOf(ctx, r.asset, from); err == nil {
		r.tokenStart = bal
	} else {
		r.log.Warn("asset balance unavailable", slog.String("error", err.Error()))
	}

	to := d.executor.Address()
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   d.backend.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       d.params.GasLimit,
		To:        &to,
		Data:      data,
	}), nil
}

// boundFees caps the fee cap at ceiling and keeps tip <= fee cap.
func boundFees(q domain.FeeQuote, ceiling *big.Int) (feeCap, tip *big.Int) {
	feeCap = q.MaxFeePerGas
	if feeCap == nil {
		feeCap = q.GasPrice
	}
	feeCap = new(big.Int).Set(feeCap)
	if ceiling != nil && ceiling.Sign() > 0 && feeCap.Cmp(ceiling) > 0 {
		feeCap.Set(ceiling)
	}
	tip = new(big.Int)
	if q.MaxPriorityFeePerGas != nil {
		tip.Set(q.MaxPriorityFeePerGas)
	}
	if tip.Cmp(feeCap) > 0 {
		tip.Set(feeCap)
	}
	return feeCap, tip
}

// ToBaseUnits converts a decimal token amount to integer base units,
// truncating excess precision.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if !v.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	return v.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// await polls for the receipt until it appears, maxWaitBlocks have passed
// since startBlock, or the equivalent wall-clock time has elapsed. A nil
// receipt means the outcome is unknown.
func (r *run) await(ctx context.Context, hash common.Hash, startBlock uint64) (*types.Receipt, error) {
	d := r.d
	deadline := startBlock + uint64(d.params.MaxWaitBlocks)
	maxWait := time.Duration(d.params.MaxWaitBlocks) * d.params.BlockTime
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	ticker := time.NewTicker(d.params.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := d.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			r.log.Warn("receipt poll failed", slog.String("error", err.Error()))
		}

		head, err := d.backend.BlockNumber(waitCtx)
		switch {
		case err == nil && head >= deadline:
			return nil, fmt.Errorf("no receipt after %d blocks (head %d)", d.params.MaxWaitBlocks, head)
		case err != nil && waitCtx.Err() == nil:
			r.log.Warn("head poll failed", slog.String("error", err.Error()))
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, fmt.Errorf("confirmation wait aborted: %w", ctx.Err())
			}
			return nil, fmt.Errorf("no receipt within %s (%d blocks)", maxWait, d.params.MaxWaitBlocks)
		case <-ticker.C:
		}
	}
}

func (r *run) recordDeltas(ctx context.Context) {
	d := r.d
	from := d.signer.Address()
	if r.nativeStart != nil {
		if end, err := d.backend.BalanceAt(ctx, from); err == nil {
			r.rec.BalanceDeltas = append(r.rec.BalanceDeltas, delta("", "ETH", r.nativeStart, end, 18))
		}
	}
	if r.tokenStart != nil {
		if end, err := d.tokens.BalanceOf(ctx, r.asset, from); err == nil {
			r.rec.BalanceDeltas = append(r.rec.BalanceDeltas,
				delta(strings.ToLower(r.asset.Hex()), r.opp.FlashLoanAssetSymbol, r.tokenStart, end, r.decimals))
		}
	}
}

func delta(asset, symbol string, before, after *big.Int, decimals uint8) domain.BalanceDelta {
	exp := -int32(decimals)
	b := decimal.NewFromBigInt(before, exp)
	a := decimal.NewFromBigInt(after, exp)
	return domain.BalanceDelta{
		Asset:  asset,
		Symbol: symbol,
		Before: b.String(),
		After:  a.String(),
		Delta:  a.Sub(b).String(),
	}
}

// broadcaster runs the public and private channels over one signed
// transaction. Because both carry the same nonce at most one can be mined.
type broadcaster struct {
	cancel  context.CancelFunc
	g       errgroup.Group
	events  chan domain.ChannelResult
	pending int

	mu        sync.Mutex
	collected []domain.ChannelResult
	stopped   bool
}

func (r *run) broadcast(ctx context.Context, signed *types.Transaction, raw []byte, startBlock uint64) *broadcaster {
	d := r.d
	bctx, cancel := context.WithCancel(ctx)
	b := &broadcaster{cancel: cancel, pending: 1}
	if d.relay != nil {
		b.pending += d.params.TargetBlocks
	}
	b.events = make(chan domain.ChannelResult, b.pending)

	b.g.Go(func() error {
		err := d.backend.SendTransaction(bctx, signed)
		b.events <- channelResult(domain.ChannelPublic, 0, err)
		return nil
	})
	if d.relay != nil {
		b.g.Go(func() error {
			txs := []hexutil.Bytes{raw}
			for i := 1; i <= d.params.TargetBlocks; i++ {
				target := startBlock + uint64(i)
				if bctx.Err() != nil {
					b.events <- channelResult(domain.ChannelRelay, target, bctx.Err())
					continue
				}
				err := d.relay.SendBundle(bctx, txs, target)
				b.events <- channelResult(domain.ChannelRelay, target, err)
			}
			return nil
		})
	}
	return b
}

func channelResult(channel string, target uint64, err error) domain.ChannelResult {
	res := domain.ChannelResult{Channel: channel, TargetBlock: target}
	switch {
	case err == nil:
		res.Accepted = true
		metrics.ChannelSubmissions.WithLabelValues(channel, "accepted").Inc()
	case IsDuplicate(err):
		res.Duplicate = true
		res.Error = err.Error()
		metrics.ChannelSubmissions.WithLabelValues(channel, "duplicate").Inc()
	default:
		res.Error = err.Error()
		metrics.ChannelSubmissions.WithLabelValues(channel, "error").Inc()
	}
	return res
}

// waitAccepted blocks until a channel accepts (or reports the transaction as
// already known) or every submission has failed.
func (b *broadcaster) waitAccepted() bool {
	for b.pending > 0 {
		res := <-b.events
		b.pending--
		b.mu.Lock()
		b.collected = append(b.collected, res)
		b.mu.Unlock()
		if res.Accepted || res.Duplicate {
			return true
		}
	}
	return false
}

// stop cancels outstanding submissions and waits for the channel goroutines.
func (b *broadcaster) stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	b.cancel()
	_ = b.g.Wait()
	close(b.events)
	b.mu.Lock()
	for res := range b.events {
		b.collected = append(b.collected, res)
	}
	b.mu.Unlock()
}

func (b *broadcaster) results() []domain.ChannelResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ChannelResult, len(b.collected))
	copy(out, b.collected)
	return out
}

// duplicateMarkers are node responses meaning the same signed transaction is
// already known, which is harmless under dual submission.
var duplicateMarkers = []string{"nonce too low", "already known", "known transaction"}

// IsDuplicate reports whether err is a harmless duplicate submission.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range duplicateMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
