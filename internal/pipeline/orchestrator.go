package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the long-lived loops of the selected mode. Any loop may
// be nil, in which case it is not started.
type Orchestrator struct {
	cycle          *Cycle
	ingestor       *Ingestor
	archiver       *Archiver
	cycleInterval  time.Duration
	ingestInterval time.Duration
	archiveCron    string
	extra          []func(ctx context.Context) error
	logger         *slog.Logger
}

// OrchestratorConfig holds the schedules.
type OrchestratorConfig struct {
	CycleInterval  time.Duration
	IngestInterval time.Duration
	ArchiveCron    string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cycle *Cycle, ingestor *Ingestor, archiver *Archiver, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cycle:          cycle,
		ingestor:       ingestor,
		archiver:       archiver,
		cycleInterval:  cfg.CycleInterval,
		ingestInterval: cfg.IngestInterval,
		archiveCron:    cfg.ArchiveCron,
		logger:         logger.With(slog.String("component", "orchestrator")),
	}
}

// Add registers another loop (for example the HTTP server) to run alongside
// the pipeline loops.
func (o *Orchestrator) Add(fn func(ctx context.Context) error) {
	o.extra = append(o.extra, fn)
}

// Run starts every configured loop under an errgroup. A loop returning a
// non-context error cancels the others and Run returns that error; ctx
// cancellation is a clean stop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "orchestrator starting",
		slog.Bool("cycle", o.cycle != nil),
		slog.Bool("ingest", o.ingestor != nil),
		slog.Bool("archive", o.archiver != nil),
		slog.Duration("cycle_interval", o.cycleInterval),
		slog.Duration("ingest_interval", o.ingestInterval),
	)

	g, gctx := errgroup.WithContext(ctx)

	if o.ingestor != nil {
		g.Go(func() error {
			return cleanStop(gctx, "ingest", o.ingestor.RunLoop(gctx, o.ingestInterval))
		})
	}
	if o.cycle != nil {
		g.Go(func() error {
			return cleanStop(gctx, "cycle", o.cycle.RunLoop(gctx, o.cycleInterval))
		})
	}
	if o.archiver != nil {
		g.Go(func() error {
			return cleanStop(gctx, "archiver", o.archiver.RunCron(gctx, o.archiveCron))
		})
	}
	for _, fn := range o.extra {
		g.Go(func() error {
			return cleanStop(gctx, "service", fn(gctx))
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

func cleanStop(ctx context.Context, name string, err error) error {
	if err == nil || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
