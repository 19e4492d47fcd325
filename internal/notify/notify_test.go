package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (s *recordSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordSender) Name() string { return s.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_Filter(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventExecutionSettled, " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventCycleError, "skip", ""))
	require.NoError(t, n.Notify(context.Background(), EventExecutionSettled, "keep", ""))
	assert.Equal(t, []string{"keep"}, s.titles)
}

func TestNotifier_ExecutionEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	ctx := context.Background()

	require.NoError(t, n.NotifyExecution(ctx, domain.ExecutionDecision{Status: domain.ExecRejected}))
	require.NoError(t, n.NotifyExecution(ctx, domain.ExecutionDecision{Status: domain.ExecSettled}))
	require.NoError(t, n.NotifyExecution(ctx, domain.ExecutionDecision{Status: domain.ExecUnknown}))
	assert.Equal(t, []string{"Arbitrage settled", "Arbitrage outcome unknown"}, s.titles)
}

func TestNotifier_SenderFailureContinues(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("boom")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.NotifyCycleError(context.Background(), "c1", errors.New("oracle"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestFormatExecution(t *testing.T) {
	block := uint64(123)
	msg := FormatExecution(domain.ExecutionDecision{
		BuyVenue: "uniswap_v3", SellVenue: "sushiswap", TokenPair: "0xa_0xb",
		NetProfitUSD: 12.345, Reason: domain.ReasonIncluded, TxHash: "0xdead",
		ConfirmedBlock: &block,
		BalanceDeltas:  []domain.BalanceDelta{{Symbol: "ETH", Delta: "-0.01"}},
	})
	assert.Contains(t, msg, "uniswap_v3 > sushiswap (0xa_0xb)")
	assert.Contains(t, msg, "$12.35")
	assert.Contains(t, msg, "tx: 0xdead")
	assert.Contains(t, msg, "block: 123")
	assert.Contains(t, msg, "ETH: -0.01")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "T", strings.Repeat("x", 3000)))
	assert.Len(t, got["content"], discordMaxContent)
}

func TestDiscordSender_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "m")
	assert.ErrorContains(t, err, "unexpected status 400")
}
