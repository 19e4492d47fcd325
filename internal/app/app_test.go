package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/dispatch"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func token(id, symbol string) domain.TokenRecord {
	return domain.TokenRecord{ID: id, Type: "token", Attributes: domain.TokenAttributes{Symbol: symbol}}
}

func TestFlashAssets(t *testing.T) {
	snap := domain.Snapshot{
		"uniswap_v3": {Included: []domain.TokenRecord{
			token("eth_0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USDC"),
			token("eth_0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "WETH"),
			token("eth_0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", "UNI"),
		}},
	}

	got := flashAssets(snap, []string{"usdc", "WETH"})
	assert.ElementsMatch(t, []common.Address{
		common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	}, got)
	assert.Empty(t, flashAssets(snap, nil))
}

func TestReportDepsWithoutBackends(t *testing.T) {
	a := testApp(t)
	a.cfg.S3.ArchiveCycles = true

	rd := a.reportDeps(&Dependencies{})
	assert.Nil(t, rd.Opportunities)
	assert.Nil(t, rd.Executions)
	assert.Nil(t, rd.Archiver)
	assert.Nil(t, rd.Notifier)
}

func TestBuildArchiverNeedsBackends(t *testing.T) {
	a := testApp(t)
	a.cfg.S3.RetentionDays = 30
	assert.Nil(t, a.buildArchiver(&Dependencies{}))
}

func TestBuildCycleRequiresChain(t *testing.T) {
	a := testApp(t)
	_, _, err := a.buildCycle(context.Background(), &Dependencies{}, nil, false)
	require.Error(t, err)
}

func TestSweepInflightStops(t *testing.T) {
	inflight := dispatch.NewInflight(10 * time.Millisecond)
	require.True(t, inflight.Begin("opp-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := sweepInflight(inflight, 20*time.Millisecond)(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, inflight.Len())
}
