package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/chain"
	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/dispatch"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/gate"
	"github.com/alanyoungcy/flasharb/internal/oracle"
	"github.com/alanyoungcy/flasharb/internal/pipeline"
	"github.com/alanyoungcy/flasharb/internal/platform/geckoterminal"
	"github.com/alanyoungcy/flasharb/internal/scanner"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
	"github.com/alanyoungcy/flasharb/internal/service"
	"github.com/alanyoungcy/flasharb/internal/snapshot"
)

// warmParallel bounds concurrent ERC20 lookups at startup.
const warmParallel = 4

// loops selects which long-running loops a mode starts.
type loops struct {
	cycle   bool
	execute bool
	ingest  bool
}

// MonitorMode scans and reports every interval. The gate, when enabled,
// still revalidates, but nothing is dispatched.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, loops{cycle: true})
}

// ExecuteMode scans, gates and dispatches.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, loops{cycle: true, execute: true})
}

// IngestMode only refreshes the pool snapshot.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, loops{ingest: true})
}

// FullMode runs ingestion alongside the executing cycle loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, loops{cycle: true, execute: true, ingest: true})
}

// OnceMode runs a single cycle and returns its error.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	report := service.NewReportService(a.reportDeps(deps), a.cfg.Scanner.DisplayTop, a.logger)
	cycle, _, err := a.buildCycle(ctx, deps, report, true)
	if err != nil {
		return err
	}
	res, err := cycle.Run(ctx)
	r := res.Report
	attrs := []any{
		slog.String("cycle_id", r.CycleID),
		slog.Int("venues", r.Venues),
		slog.Int("price_points", r.PricePoints),
		slog.Int("pairs", r.Pairs),
		slog.Int("opportunities", len(r.Opportunities)),
		slog.Duration("duration", r.Duration),
	}
	if r.Decision != nil {
		attrs = append(attrs,
			slog.String("decision", string(r.Decision.Status)),
			slog.String("reason", string(r.Decision.Reason)),
		)
	}
	a.logger.InfoContext(ctx, "single cycle finished", attrs...)
	return err
}

func (a *App) run(ctx context.Context, deps *Dependencies, l loops) error {
	cfg := a.cfg
	report := service.NewReportService(a.reportDeps(deps), cfg.Scanner.DisplayTop, a.logger)

	var (
		cycle    *pipeline.Cycle
		inflight *dispatch.Inflight
		ingestor *pipeline.Ingestor
		err      error
	)
	if l.cycle {
		cycle, inflight, err = a.buildCycle(ctx, deps, report, l.execute)
		if err != nil {
			return err
		}
	}
	if l.ingest {
		ingestor = a.buildIngestor(deps)
	}

	orch := pipeline.NewOrchestrator(cycle, ingestor, a.buildArchiver(deps), pipeline.OrchestratorConfig{
		CycleInterval:  cfg.Scanner.Interval.Duration,
		IngestInterval: cfg.Gecko.Interval.Duration,
		ArchiveCron:    cfg.S3.ArchiveCron,
	}, a.logger)

	if inflight != nil {
		orch.Add(sweepInflight(inflight, cfg.Dispatch.InflightTTL.Duration))
	}
	if cfg.Server.Enabled {
		srv, hub := a.buildServer(deps, report, cycle)
		orch.Add(srv.Run)
		if hub != nil {
			orch.Add(hub.Run)
		}
	}
	return orch.Run(ctx)
}

// reportDeps collects the sinks that are configured.
func (a *App) reportDeps(deps *Dependencies) service.ReportDeps {
	rd := service.ReportDeps{
		Executions: deps.Executions,
		Audit:      deps.Audit,
		Ranking:    deps.Ranking,
		Bus:        deps.Bus,
	}
	if deps.Opportunities != nil {
		rd.Opportunities = deps.Opportunities
	}
	if deps.Archiver != nil && a.cfg.S3.ArchiveCycles {
		rd.Archiver = deps.Archiver
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		rd.Notifier = deps.Notifier
	}
	return rd
}

// buildCycle assembles the per-cycle components. A dispatcher is attached
// only when execute is set and the configuration allows execution.
func (a *App) buildCycle(ctx context.Context, deps *Dependencies, reporter pipeline.Reporter, execute bool) (*pipeline.Cycle, *dispatch.Inflight, error) {
	cfg := a.cfg
	if deps.Chain == nil {
		return nil, nil, errors.New("app: cycle requires a chain client")
	}
	loader := snapshot.NewLoader(cfg.Snapshot.Path, cfg.Snapshot.BlobKey, deps.BlobReader, a.logger)

	var feed oracle.NativePriceFeed
	if cfg.Contracts.NativeUSDFeed != "" {
		feed = chain.NewPriceFeed(deps.Chain, common.HexToAddress(cfg.Contracts.NativeUSDFeed))
	}
	costOracle := oracle.New(deps.Chain, feed, oracle.Params{
		GasLimit:        cfg.Scanner.GasLimit,
		DefaultGasPrice: oracle.GweiToWei(cfg.Scanner.DefaultGasGwei),
		DefaultTip:      oracle.GweiToWei(cfg.Dispatch.PriorityGwei),
		Stablecoins:     cfg.Scanner.Stablecoins,
		NativeSymbols:   cfg.Scanner.NativeSymbols,
	}, a.logger)

	var evaluator pipeline.Evaluator
	if cfg.Gate.Enabled {
		agg := chain.NewAggregator(deps.Chain, common.HexToAddress(cfg.Contracts.Aggregator))
		evaluator = gate.New(agg, deps.Chain, gate.Params{
			MinProfitUSD:       cfg.Gate.MinProfitUSD,
			SafetyMultiplier:   cfg.Gate.SafetyMultiplier,
			MinProfitPercent:   cfg.Scanner.MinProfitPercent,
			MaxSlippagePercent: cfg.Scanner.MaxSlippagePercent,
			MaxGasPriceGwei:    cfg.Gate.MaxGasPriceGwei,
			Policy:             gate.ParsePolicy(cfg.Gate.Policy),
		}, a.logger)
	}

	var (
		executor pipeline.Executor
		inflight *dispatch.Inflight
	)
	if execute && cfg.Executes() {
		d, inf, err := a.buildDispatcher(ctx, deps, costOracle, loader)
		if err != nil {
			return nil, nil, err
		}
		executor, inflight = d, inf
	}

	cycle := pipeline.NewCycle(loader, costOracle, evaluator, executor, reporter, pipeline.CycleParams{
		MinLiquidityUSD: cfg.Scanner.MinLiquidityUSD,
		DisplayTop:      cfg.Scanner.DisplayTop,
		Scan: scanner.Params{
			TopK:               cfg.Scanner.TopK,
			MaxSlippagePercent: cfg.Scanner.MaxSlippagePercent,
			MinProfitPercent:   cfg.Scanner.MinProfitPercent,
			TradeSizeFraction:  cfg.Scanner.TradeSizeFraction,
			RealizationFactor:  cfg.Scanner.RealizationFactor,
			FlashLoanFeeRate:   cfg.Scanner.FlashLoanFeeRate,
			Stablecoins:        cfg.Scanner.Stablecoins,
		},
	}, a.logger)
	return cycle, inflight, nil
}

func (a *App) buildDispatcher(ctx context.Context, deps *Dependencies, fees dispatch.FeeSource, loader *snapshot.Loader) (*dispatch.Dispatcher, *dispatch.Inflight, error) {
	cfg := a.cfg
	log := a.logger.With(slog.String("component", "app"))

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("app: wallet: %w", err)
	}
	signer := crypto.NewTxSigner(key, deps.Chain.ChainID())

	flash := chain.NewFlashLoan(deps.Chain, common.HexToAddress(cfg.Contracts.FlashLoan))
	deployed, err := flash.Deployed(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("app: flash-loan contract: %w", err)
	}
	if !deployed {
		return nil, nil, fmt.Errorf("app: no contract code at flash-loan address %s", flash.Address().Hex())
	}
	if owner, err := flash.Owner(ctx); err == nil && owner != signer.Address() {
		log.WarnContext(ctx, "wallet is not the flash-loan contract owner",
			slog.String("owner", owner.Hex()),
			slog.String("wallet", signer.Address().Hex()),
		)
	}

	var relay dispatch.Relay
	if cfg.Relay.Enabled {
		relayKey, err := relayIdentity(cfg.Relay.SigningKey)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Relay.SigningKey == "" {
			log.WarnContext(ctx, "relay signing key not set; using an ephemeral identity")
		}
		relay = dispatch.NewRelayClient(cfg.Relay.URL, crypto.NewRelaySigner(relayKey))
	}

	tokens := chain.NewTokens(deps.Chain)
	a.warmTokens(ctx, tokens, loader)

	inflight := dispatch.NewInflight(cfg.Dispatch.InflightTTL.Duration)
	d := dispatch.New(deps.Chain, fees, tokens, flash, signer, relay, deps.Locks, inflight, dispatch.Params{
		GasLimit:      cfg.Scanner.GasLimit,
		MaxGasPrice:   oracle.GweiToWei(cfg.Gate.MaxGasPriceGwei),
		TargetBlocks:  cfg.Dispatch.TargetBlocks,
		MaxWaitBlocks: cfg.Dispatch.MaxWaitBlocks,
		PollInterval:  cfg.Dispatch.PollInterval.Duration,
		LockTTL:       cfg.Dispatch.LockTTL.Duration,
		BlockTime:     cfg.Dispatch.BlockTime.Duration,
	}, a.logger)

	log.InfoContext(ctx, "execution enabled",
		slog.String("wallet", signer.Address().Hex()),
		slog.String("flash_loan", flash.Address().Hex()),
		slog.Bool("relay", relay != nil),
		slog.Bool("distributed_lock", deps.Locks != nil),
	)
	return d, inflight, nil
}

// relayIdentity returns the relay reputation key, generating one when unset.
func relayIdentity(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey != "" {
		return crypto.ParseKey(hexKey)
	}
	return crypto.GenerateKey()
}

// warmTokens pre-resolves decimals of the assets a flash loan may borrow,
// taken from the current snapshot. Failures only cost a lookup later.
func (a *App) warmTokens(ctx context.Context, tokens *chain.Tokens, loader *snapshot.Loader) {
	snap, err := loader.Load(ctx)
	if err != nil {
		return
	}
	addrs := flashAssets(snap, slices.Concat(a.cfg.Scanner.Stablecoins, a.cfg.Scanner.NativeSymbols))
	n, err := tokens.WarmDecimals(ctx, addrs, warmParallel)
	attrs := []any{slog.String("component", "app"), slog.Int("tokens", n)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	a.logger.InfoContext(ctx, "token decimals warmed", attrs...)
}

// flashAssets returns the addresses of snapshot tokens whose symbol is in
// symbols.
func flashAssets(snap domain.Snapshot, symbols []string) []common.Address {
	var out []common.Address
	for id, tok := range snap.TokenDirectory() {
		for _, s := range symbols {
			if strings.EqualFold(s, tok.Attributes.Symbol) {
				out = append(out, common.HexToAddress(domain.TokenAddress(id)))
				break
			}
		}
	}
	return out
}

func (a *App) buildIngestor(deps *Dependencies) *pipeline.Ingestor {
	cfg := a.cfg
	var shared domain.RateLimiter
	if cfg.Gecko.SharedLimit > 0 && deps.RateLimiter != nil {
		shared = deps.RateLimiter
	}
	gecko := geckoterminal.New(geckoterminal.Config{
		BaseURL:       cfg.Gecko.BaseURL,
		APIKey:        cfg.Gecko.APIKey,
		Network:       cfg.Gecko.Network,
		Pages:         cfg.Gecko.Pages,
		TopPools:      cfg.Gecko.TopPools,
		MaxConcurrent: cfg.Gecko.MaxConcurrent,
		RequestDelay:  cfg.Gecko.RequestDelay.Duration,
	}, shared, a.logger)

	var archiver pipeline.SnapshotArchiver
	if cfg.Snapshot.Archive && deps.Archiver != nil {
		archiver = deps.Archiver
	}
	return pipeline.NewIngestor(gecko, cfg.Gecko.Dexes, cfg.Snapshot.Path, snapshot.Save, archiver, a.logger)
}

// buildArchiver returns nil unless both the bucket and the database are
// configured with a positive retention window.
func (a *App) buildArchiver(deps *Dependencies) *pipeline.Archiver {
	if deps.Archiver == nil || deps.Opportunities == nil || a.cfg.S3.RetentionDays <= 0 {
		return nil
	}
	return pipeline.NewArchiver(deps.Archiver, deps.Opportunities, a.cfg.S3.RetentionDays, a.logger)
}

func (a *App) buildServer(deps *Dependencies, report *service.ReportService, cycle *pipeline.Cycle) (*server.Server, *ws.Hub) {
	cfg := a.cfg
	queries := service.NewQueryService(a.reportDeps(deps), report)

	var trigger handler.CycleTrigger
	if cycle != nil {
		trigger = cycle
	}
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Health, a.logger),
		Status:        handler.NewStatusHandler(cfg.Mode, cfg.Gecko.Dexes, a.startedAt, report),
		Opportunities: handler.NewOpportunityHandler(queries, a.logger),
		Executions:    handler.NewExecutionHandler(queries, a.logger),
		Audit:         handler.NewAuditHandler(queries, a.logger),
		Pipeline:      handler.NewPipelineHandler(trigger, a.logger),
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, ws.Config{
			Mode:           cfg.Mode,
			StartedAt:      a.startedAt,
			AllowedOrigins: cfg.Server.CORSOrigins,
		}, a.logger)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := server.NewServer(server.Config{
		Port:            cfg.Server.Port,
		CORSOrigins:     cfg.Server.CORSOrigins,
		APIKey:          cfg.Server.APIKey,
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: cfg.Server.RateLimitWindow.Duration,
		MetricsPath:     metricsPath,
	}, handlers, hub, deps.RateLimiter, a.logger)
	return srv, hub
}

// sweepInflight periodically drops expired in-flight dispatch records.
func sweepInflight(inflight *dispatch.Inflight, ttl time.Duration) func(context.Context) error {
	every := ttl / 2
	if every <= 0 {
		every = time.Minute
	}
	return func(ctx context.Context) error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				inflight.Cleanup()
			}
		}
	}
}
