package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/chain"
	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

type fakeBackend struct {
	mu           sync.Mutex
	block        uint64
	sendErr      error
	sent         []*types.Transaction
	receiptAfter int // polls before the receipt appears; negative means never
	polls        int
	status       uint64
	balances     []*big.Int
	waitFor      <-chan struct{} // delays the public send until closed
	headOK       int             // head polls that succeed before BlockNumber errors; 0 means always
	headCalls    int
}

func (f *fakeBackend) ChainID() *big.Int { return big.NewInt(1) }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 42, nil }

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.waitFor != nil {
		<-f.waitFor
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return f.sendErr
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.receiptAfter < 0 || f.polls <= f.receiptAfter {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: f.status, BlockNumber: big.NewInt(int64(f.block)), GasUsed: 210_000}, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	if f.headOK > 0 && f.headCalls > f.headOK {
		return 0, errors.New("head unavailable")
	}
	f.block++
	return f.block, nil
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.balances[0]
	if len(f.balances) > 1 {
		f.balances = f.balances[1:]
	}
	return b, nil
}

type fakeFees struct{}

func (fakeFees) FeeQuote(context.Context) (domain.FeeQuote, error) {
	return domain.FeeQuote{
		GasPrice:             big.NewInt(30e9),
		MaxFeePerGas:         big.NewInt(80e9),
		MaxPriorityFeePerGas: big.NewInt(2e9),
	}, nil
}

type fakeTokens struct {
	mu       sync.Mutex
	balances []*big.Int
}

func (*fakeTokens) Decimals(context.Context, common.Address) (uint8, error) { return 6, nil }

func (f *fakeTokens) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.balances[0]
	if len(f.balances) > 1 {
		f.balances = f.balances[1:]
	}
	return b, nil
}

type fakeRelay struct {
	mu      sync.Mutex
	err     error
	hang    bool
	targets []uint64
	txs     []hexutil.Bytes
	first   chan struct{} // closed on the first submission when non-nil
	once    sync.Once
}

func (*fakeRelay) Name() string { return "fake" }

func (f *fakeRelay) SendBundle(ctx context.Context, txs []hexutil.Bytes, target uint64) error {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.txs = append(f.txs, txs...)
	f.mu.Unlock()
	if f.first != nil {
		f.once.Do(func() { close(f.first) })
	}
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

type fakeLocks struct{ err error }

func (f fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() {}, nil
}

var usdc = "0x00000000000000000000000000000000000000a0"

func opportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:                   "opp-1",
		FlashLoanAsset:       usdc,
		FlashLoanAssetSymbol: "USDC",
		FlashLoanAmount:      "1500.00",
		NetProfitUSD:         12,
	}
}

type harness struct {
	backend *fakeBackend
	relay   *fakeRelay
	tokens  *fakeTokens
	signer  *crypto.TxSigner
}

func newDispatcher(t *testing.T, h *harness, locks domain.LockManager, inflight *Inflight) *Dispatcher {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h.signer = crypto.NewTxSigner(key, big.NewInt(1))
	if h.tokens == nil {
		h.tokens = &fakeTokens{balances: []*big.Int{big.NewInt(0)}}
	}
	if inflight == nil {
		inflight = NewInflight(time.Minute)
	}
	var relay Relay
	if h.relay != nil {
		relay = h.relay
	}
	executor := chain.NewFlashLoan(nil, common.HexToAddress("0x00000000000000000000000000000000000000f1"))
	return New(h.backend, fakeFees{}, h.tokens, executor, h.signer, relay, locks, inflight, Params{
		GasLimit:      300_000,
		MaxGasPrice:   big.NewInt(40e9),
		TargetBlocks:  3,
		MaxWaitBlocks: 5,
		PollInterval:  time.Millisecond,
		LockTTL:       time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func approved() domain.ExecutionDecision {
	return domain.ExecutionDecision{ID: "d-1", OpportunityID: "opp-1", Approved: true, Status: domain.ExecApproved}
}

func TestDispatchSettlesAndRecordsDeltas(t *testing.T) {
	h := &harness{
		backend: &fakeBackend{block: 100, receiptAfter: 2, status: types.ReceiptStatusSuccessful,
			balances: []*big.Int{big.NewInt(1e18), big.NewInt(99e16)}},
		relay:  &fakeRelay{},
		tokens: &fakeTokens{balances: []*big.Int{big.NewInt(5_000_000), big.NewInt(17_250_000)}},
	}
	d := newDispatcher(t, h, fakeLocks{}, nil)

	rec := d.Dispatch(context.Background(), approved(), opportunity())

	require.Equal(t, domain.ExecSettled, rec.Status, rec.Error)
	assert.Equal(t, domain.ReasonIncluded, rec.Reason)
	assert.Equal(t, []domain.DispatchState{
		domain.StateBuild, domain.StateSign, domain.StateBroadcast, domain.StateAwaitConfirm, domain.StateSettled,
	}, rec.States)
	require.NotNil(t, rec.Nonce)
	assert.Equal(t, uint64(42), *rec.Nonce)
	require.NotNil(t, rec.ConfirmedBlock)
	assert.NotNil(t, rec.CompletedAt)
	assert.Equal(t, uint64(210_000), rec.GasUsed)

	require.Len(t, h.backend.sent, 1)
	tx := h.backend.sent[0]
	assert.Equal(t, rec.TxHash, tx.Hash().Hex())
	assert.Equal(t, uint64(300_000), tx.Gas())
	assert.Equal(t, 0, tx.GasFeeCap().Cmp(big.NewInt(40e9)), "fee cap is bounded by the gas ceiling")
	assert.Equal(t, 0, tx.GasTipCap().Cmp(big.NewInt(2e9)))

	require.Len(t, rec.BalanceDeltas, 2)
	assert.Equal(t, "-0.01", rec.BalanceDeltas[0].Delta)
	assert.Equal(t, "USDC", rec.BalanceDeltas[1].Symbol)
	assert.Equal(t, "12.25", rec.BalanceDeltas[1].Delta)
}

func TestDualChannelCarriesOneSignedTransaction(t *testing.T) {
	first := make(chan struct{})
	h := &harness{
		backend: &fakeBackend{block: 10, receiptAfter: 0, status: 1, sendErr: errors.New("already known"),
			balances: []*big.Int{big.NewInt(0)}, waitFor: first},
		relay: &fakeRelay{first: first},
	}
	d := newDispatcher(t, h, nil, nil)

	rec := d.Dispatch(context.Background(), approved(), opportunity())
	require.Equal(t, domain.ExecSettled, rec.Status, rec.Error)

	// Every relay bundle carries the exact bytes broadcast publicly, so only
	// one of them can ever be mined.
	public := h.backend.sent[0]
	h.relay.mu.Lock()
	defer h.relay.mu.Unlock()
	require.NotEmpty(t, h.relay.txs)
	for _, raw := range h.relay.txs {
		var tx types.Transaction
		require.NoError(t, tx.UnmarshalBinary(raw))
		assert.Equal(t, public.Hash(), tx.Hash())
		assert.Equal(t, public.Nonce(), tx.Nonce())
	}

	var publicResult *domain.ChannelResult
	for i := range rec.Channels {
		if rec.Channels[i].Channel == domain.ChannelPublic {
			publicResult = &rec.Channels[i]
		}
	}
	require.NotNil(t, publicResult)
	assert.True(t, publicResult.Duplicate)
}

func TestRelayLoserIsCancelled(t *testing.T) {
	h := &harness{
		backend: &fakeBackend{block: 10, receiptAfter: 1, status: 1, balances: []*big.Int{big.NewInt(0)}},
		relay:   &fakeRelay{hang: true},
	}
	d := newDispatcher(t, h, nil, nil)

	done := make(chan domain.ExecutionDecision)
	go func() { done <- d.Dispatch(context.Background(), approved(), opportunity()) }()

	select {
	case rec := <-done:
		assert.Equal(t, domain.ExecSettled, rec.Status)
		var relayResults int
		for _, c := range rec.Channels {
			if c.Channel == domain.ChannelRelay {
				relayResults++
				assert.False(t, c.Accepted)
			}
		}
		assert.Equal(t, 3, relayResults)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not cancel the hanging relay channel")
	}
}

func TestAllChannelsFail(t *testing.T) {
	h := &harness{
		backend: &fakeBackend{block: 10, receiptAfter: -1, sendErr: errors.New("insufficient funds"), balances: []*big.Int{big.NewInt(0)}},
		relay:   &fakeRelay{err: errors.New("bundle rejected")},
	}
	d := newDispatcher(t, h, nil, nil)

	rec := d.Dispatch(context.Background(), approved(), opportunity())
	assert.Equal(t, domain.ExecFailed, rec.Status)
	assert.Equal(t, domain.ReasonSubmissionFailed, rec.Reason)
	assert.Len(t, rec.Channels, 4)
	assert.Equal(t, domain.StateFailed, rec.States[len(rec.States)-1])
	assert.Equal(t, 0, h.backend.polls, "no confirmation wait after a failed broadcast")
}

func TestConfirmationTimeoutIsUnknown(t *testing.T) {
	h := &harness{backend: &fakeBackend{block: 10, receiptAfter: -1, balances: []*big.Int{big.NewInt(0)}}}
	d := newDispatcher(t, h, nil, nil)

	rec := d.Dispatch(context.Background(), approved(), opportunity())
	assert.Equal(t, domain.ExecUnknown, rec.Status)
	assert.Equal(t, domain.ReasonConfirmTimeout, rec.Reason)
	assert.Equal(t, domain.StateUnknown, rec.States[len(rec.States)-1])
	assert.Nil(t, rec.ConfirmedBlock)
	assert.NotEmpty(t, rec.TxHash)
}

func TestConfirmationWaitIsBoundedWhenHeadFails(t *testing.T) {
	h := &harness{backend: &fakeBackend{block: 10, receiptAfter: -1, headOK: 1, balances: []*big.Int{big.NewInt(0)}}}
	d := newDispatcher(t, h, nil, nil)
	d.params.BlockTime = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	rec := d.Dispatch(ctx, approved(), opportunity())

	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, ctx.Err())
	assert.Equal(t, domain.ExecUnknown, rec.Status)
	assert.Equal(t, domain.ReasonConfirmTimeout, rec.Reason)
	assert.Contains(t, rec.Error, "no receipt within")
	assert.Equal(t, domain.StateUnknown, rec.States[len(rec.States)-1])
}

func TestLockBackendFailureIsNotDuplicate(t *testing.T) {
	h := &harness{backend: &fakeBackend{block: 10, balances: []*big.Int{big.NewInt(0)}}}
	d := newDispatcher(t, h, fakeLocks{err: errors.New("redis: connection refused")}, nil)

	rec := d.Dispatch(context.Background(), approved(), opportunity())
	assert.Equal(t, domain.ExecRejected, rec.Status)
	assert.Equal(t, domain.ReasonSubmissionFailed, rec.Reason)
	assert.Contains(t, rec.Error, "connection refused")
	assert.Empty(t, h.backend.sent)
}

func TestRevertedIsFailed(t *testing.T) {
	h := &harness{backend: &fakeBackend{block: 10, receiptAfter: 0, status: types.ReceiptStatusFailed, balances: []*big.Int{big.NewInt(0)}}}
	d := newDispatcher(t, h, nil, nil)

	rec := d.Dispatch(context.Background(), approved(), opportunity())
	assert.Equal(t, domain.ExecFailed, rec.Status)
	assert.Equal(t, domain.ReasonReverted, rec.Reason)
	assert.NotNil(t, rec.ConfirmedBlock)
}

func TestDuplicateDispatchIsRejected(t *testing.T) {
	inflight := NewInflight(time.Minute)
	require.True(t, inflight.Begin("opp-1"))

	h := &harness{backend: &fakeBackend{block: 10, balances: []*big.Int{big.NewInt(0)}}}
	d := newDispatcher(t, h, nil, inflight)

	rec := d.Dispatch(context.Background(), approved(), opportunity())
	assert.Equal(t, domain.ExecRejected, rec.Status)
	assert.Equal(t, domain.ReasonDuplicate, rec.Reason)
	assert.Empty(t, h.backend.sent)

	h2 := &harness{backend: &fakeBackend{block: 10, balances: []*big.Int{big.NewInt(0)}}}
	d2 := newDispatcher(t, h2, fakeLocks{err: domain.ErrLockHeld}, nil)
	rec = d2.Dispatch(context.Background(), approved(), opportunity())
	assert.Equal(t, domain.ReasonDuplicate, rec.Reason)
	assert.Empty(t, h2.backend.sent)
}

func TestInvalidAmountFailsAtBuild(t *testing.T) {
	h := &harness{backend: &fakeBackend{block: 10, balances: []*big.Int{big.NewInt(0)}}}
	d := newDispatcher(t, h, nil, nil)
	opp := opportunity()
	opp.FlashLoanAmount = "abc"

	rec := d.Dispatch(context.Background(), approved(), opp)
	assert.Equal(t, domain.ExecFailed, rec.Status)
	assert.Equal(t, []domain.DispatchState{domain.StateBuild, domain.StateFailed}, rec.States)
}

func TestInflightLifecycle(t *testing.T) {
	f := NewInflight(time.Minute)
	clock := time.Unix(0, 0)
	f.now = func() time.Time { return clock }

	assert.True(t, f.Begin("a"))
	assert.False(t, f.Begin("a"))
	f.Done("a")
	assert.True(t, f.Begin("a"))

	clock = clock.Add(2 * time.Minute)
	assert.True(t, f.Begin("a"), "stale entries expire")
	assert.True(t, f.Begin("b"))
	clock = clock.Add(2 * time.Minute)
	f.Cleanup()
	assert.Equal(t, 0, f.Len())
}

func TestToBaseUnits(t *testing.T) {
	v, err := ToBaseUnits("1500.00", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000000", v.String())

	v, err = ToBaseUnits("0.1234567", 6)
	require.NoError(t, err)
	assert.Equal(t, "123456", v.String())

	_, err = ToBaseUnits("0", 6)
	require.Error(t, err)
	_, err = ToBaseUnits("x", 6)
	require.Error(t, err)
}

func TestBoundFees(t *testing.T) {
	feeCap, tip := boundFees(domain.FeeQuote{MaxFeePerGas: big.NewInt(50), MaxPriorityFeePerGas: big.NewInt(60)}, big.NewInt(40))
	assert.Equal(t, int64(40), feeCap.Int64())
	assert.Equal(t, int64(40), tip.Int64())

	feeCap, tip = boundFees(domain.FeeQuote{GasPrice: big.NewInt(20)}, nil)
	assert.Equal(t, int64(20), feeCap.Int64())
	assert.Equal(t, int64(0), tip.Int64())
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(errors.New("nonce too low")))
	assert.True(t, IsDuplicate(errors.New("ALREADY KNOWN")))
	assert.False(t, IsDuplicate(errors.New("insufficient funds")))
	assert.False(t, IsDuplicate(nil))
}

func TestRelayClientSignsBundles(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewRelaySigner(key)

	var (
		mu        sync.Mutex
		gotMethod string
		gotBlock  hexutil.Uint64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		addr, err := crypto.VerifyPayload(body, r.Header.Get("X-Flashbots-Signature"))
		if err != nil || addr != signer.Address() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var req struct {
			Method string         `json:"method"`
			Params []bundleParams `json:"params"`
		}
		_ = json.Unmarshal(body, &req)
		gotMethod = req.Method
		gotBlock = req.Params[0].BlockNumber
		if gotBlock == 0x66 {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle too late"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0xabc"}}`))
	}))
	defer srv.Close()

	rc := NewRelayClient(srv.URL, signer)
	require.NoError(t, rc.SendBundle(context.Background(), []hexutil.Bytes{{0x01, 0x02}}, 0x65))
	mu.Lock()
	assert.Equal(t, "eth_sendBundle", gotMethod)
	assert.Equal(t, hexutil.Uint64(0x65), gotBlock)
	mu.Unlock()

	err = rc.SendBundle(context.Background(), []hexutil.Bytes{{0x01}}, 0x66)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle too late")
}
