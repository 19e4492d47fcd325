package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// OpportunityArchiveStore is the slice of the opportunity store the archiver
// needs.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// ArchiveImpl implements domain.Archiver. Archived opportunities are not
// deleted here; the retention job does that after a successful upload.
type ArchiveImpl struct {
	writer domain.BlobWriter
	opps   OpportunityArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. opps and audit may be nil when
// Postgres is disabled; ArchiveOpportunities then archives nothing.
func NewArchiver(writer domain.BlobWriter, opps OpportunityArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, opps: opps, audit: audit}
}

// ArchiveSnapshot uploads snap to snapshots/YYYY/MM/DD/<unix>.json and
// returns the key.
func (a *ArchiveImpl) ArchiveSnapshot(ctx context.Context, snap domain.Snapshot, at time.Time) (string, error) {
	path := SnapshotPath(at)
	if err := putJSON(ctx, a.writer, path, snap); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot: %w", err)
	}
	return path, nil
}

// cycleHeader is the first JSONL line of an archived cycle.
type cycleHeader struct {
	Kind string `json:"kind"`
	domain.CycleReport
	Opportunities []domain.Opportunity `json:"opportunities,omitempty"`
}

type cycleLine struct {
	Kind string `json:"kind"`
	Rank int    `json:"rank"`
	domain.Opportunity
}

// ArchiveCycle uploads report as JSONL: a summary line followed by one line
// per ranked opportunity.
func (a *ArchiveImpl) ArchiveCycle(ctx context.Context, report domain.CycleReport) (string, error) {
	records := make([]any, 0, len(report.Opportunities)+1)
	records = append(records, cycleHeader{Kind: "cycle", CycleReport: report})
	for i, o := range report.Opportunities {
		records = append(records, cycleLine{Kind: "opportunity", Rank: i + 1, Opportunity: o})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive cycle %s marshal: %w", report.CycleID, err)
	}
	path := CyclePath(report.StartedAt, report.CycleID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive cycle %s upload: %w", report.CycleID, err)
	}
	return path, nil
}

// ArchiveOpportunities uploads every opportunity detected before the cutoff
// to archive/opportunities/YYYY-MM-DD.jsonl and records an audit entry.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	if a.opps == nil {
		return 0, nil
	}
	opps, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath("opportunities", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}

	count := int64(len(opps))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.opportunities", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive opportunities audit log: %w", err)
		}
	}
	return count, nil
}

// SnapshotPath is the key a snapshot taken at t is archived under.
func SnapshotPath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("snapshots/%s/%d.json", t.Format("2006/01/02"), t.Unix())
}

// CyclePath is the key a cycle report is archived under.
func CyclePath(t time.Time, cycleID string) string {
	return fmt.Sprintf("cycles/%s/%s.jsonl", t.UTC().Format("2006/01/02"), cycleID)
}

//	archive/opportunities/2026-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
