package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// PoolFetcher builds a snapshot from the pool indexer.
type PoolFetcher interface {
	FetchSnapshot(ctx context.Context, dexes []string) (domain.Snapshot, error)
}

// SnapshotArchiver stores a copy of each ingested snapshot.
type SnapshotArchiver interface {
	ArchiveSnapshot(ctx context.Context, snap domain.Snapshot, at time.Time) (string, error)
}

// Ingestor refreshes the snapshot file the cycle reads.
type Ingestor struct {
	fetcher  PoolFetcher
	dexes    []string
	save     func(path string, snap domain.Snapshot) error
	path     string
	archiver SnapshotArchiver
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestor creates an Ingestor that writes to path with save. archiver is
// optional.
func NewIngestor(fetcher PoolFetcher, dexes []string, path string,
	save func(string, domain.Snapshot) error, archiver SnapshotArchiver, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		fetcher:  fetcher,
		dexes:    dexes,
		save:     save,
		path:     path,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "ingest")),
		now:      time.Now,
	}
}

// Run fetches one snapshot, saves it, and archives it. A failed archive is
// logged; the saved file still counts.
func (in *Ingestor) Run(ctx context.Context) (domain.Snapshot, error) {
	snap, err := in.fetcher.FetchSnapshot(ctx, in.dexes)
	if err != nil {
		return nil, fmt.Errorf("pipeline: ingest fetch: %w", err)
	}

	for _, id := range snap.VenueIDs() {
		metrics.IngestPools.WithLabelValues(id).Set(float64(len(snap[id].Data)))
	}

	if in.path != "" {
		if err := in.save(in.path, snap); err != nil {
			return nil, fmt.Errorf("pipeline: ingest save: %w", err)
		}
	}

	attrs := []any{
		slog.Int("venues", len(snap)),
		slog.Int("pools", snap.PoolCount()),
		slog.String("path", in.path),
	}
	if in.archiver != nil {
		key, err := in.archiver.ArchiveSnapshot(ctx, snap, in.now())
		if err != nil {
			in.logger.WarnContext(ctx, "snapshot archive failed", slog.String("error", err.Error()))
		} else {
			attrs = append(attrs, slog.String("archive_key", key))
		}
	}
	in.logger.InfoContext(ctx, "snapshot ingested", attrs...)
	return snap, nil
}

// RunLoop runs ingestion immediately and then every interval.
func (in *Ingestor) RunLoop(ctx context.Context, interval time.Duration) error {
	if _, err := in.Run(ctx); err != nil {
		in.logger.ErrorContext(ctx, "ingest failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("ingest loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := in.Run(ctx); err != nil {
				in.logger.ErrorContext(ctx, "ingest failed", slog.String("error", err.Error()))
			}
		}
	}
}
