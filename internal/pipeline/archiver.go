package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// OpportunityArchiver uploads old opportunities to cold storage.
type OpportunityArchiver interface {
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityPruner deletes opportunities already archived.
type OpportunityPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves opportunities older than the retention window from the
// database to the bucket.
type Archiver struct {
	blobArchiver  OpportunityArchiver
	pruner        OpportunityPruner
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver. pruner may be nil to keep rows after
// upload.
func NewArchiver(blobArchiver OpportunityArchiver, pruner OpportunityPruner, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		pruner:        pruner,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run archives opportunities detected before now minus the retention window
// and then prunes them. Rows are only pruned after a successful upload.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving opportunities before %v: %w", cutoff, err)
	}

	var pruned int64
	if a.pruner != nil && archived > 0 {
		pruned, err = a.pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning opportunities before %v: %w", cutoff, err)
		}
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("archived", archived),
		slog.Int64("pruned", pruned),
	)
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week", e.g. "0 3 * * *") until ctx is done.
// Fields accept lists, ranges, and steps.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		waitDuration := time.Until(next)
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronSpec holds the allowed values of one cron field.
type cronSpec map[int]bool

// cronBounds are the inclusive ranges of the five fields.
var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

// parseCronField parses "*", "*/n", "a", "a-b", "a-b/n", and comma lists of
// those within [lo, hi].
func parseCronField(field string, lo, hi int) (cronSpec, error) {
	spec := cronSpec{}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid cron step %q", part)
			}
			step = n
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var errA, errB error
			from, errA = strconv.Atoi(a)
			to, errB = strconv.Atoi(b)
			if errA != nil || errB != nil {
				return nil, fmt.Errorf("invalid cron range %q", part)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return nil, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			from, to = v, v
			if hasStep {
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("cron value %q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			spec[v] = true
		}
	}
	return spec, nil
}

// parsedCron holds the five parsed fields.
type parsedCron [5]cronSpec

func (c parsedCron) matchesTime(t time.Time) bool {
	return c[0][t.Minute()] &&
		c[1][t.Hour()] &&
		c[2][t.Day()] &&
		c[3][int(t.Month())] &&
		c[4][int(t.Weekday())]
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var c parsedCron
	for i, f := range fields {
		spec, err := parseCronField(f, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		c[i] = spec
	}
	return c, nil
}

// nextCronTime returns the first minute after 'after' matching cronExpr,
// searching at most one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
