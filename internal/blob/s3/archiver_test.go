package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type memWriter struct {
	objects      map[string][]byte
	contentTypes map[string]string
	multipart    int
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.contentTypes[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart++
	return w.Put(ctx, path, data, "application/json")
}

type fakeOppStore struct {
	opps   []domain.Opportunity
	before time.Time
}

func (s *fakeOppStore) ListBefore(_ context.Context, before time.Time) ([]domain.Opportunity, error) {
	s.before = before
	return s.opps, nil
}

type fakeAudit struct {
	events []string
	detail []map[string]any
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestPaths(t *testing.T) {
	at := time.Date(2026, 4, 9, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "snapshots/2026/04/09/1775747045.json", SnapshotPath(at))
	assert.Equal(t, "cycles/2026/04/09/c1.jsonl", CyclePath(at, "c1"))
	assert.Equal(t, "archive/opportunities/2026-04-09.jsonl", archivePath("opportunities", at))
}

func TestArchiveSnapshot(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, nil, nil)
	at := time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC)

	snap := domain.Snapshot{"uniswap_v3": {Data: []domain.PoolRecord{{ID: "eth_0xpool"}}}}
	path, err := a.ArchiveSnapshot(context.Background(), snap, at)
	require.NoError(t, err)
	assert.Equal(t, SnapshotPath(at), path)
	assert.Equal(t, "application/json", w.contentTypes[path])
	assert.Zero(t, w.multipart)

	var back domain.Snapshot
	require.NoError(t, json.Unmarshal(w.objects[path], &back))
	assert.Equal(t, "eth_0xpool", back["uniswap_v3"].Data[0].ID)
}

func TestArchiveCycle(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, nil, nil)
	report := domain.CycleReport{
		CycleID:   "c9",
		StartedAt: time.Date(2026, 4, 9, 12, 0, 0, 0, time.UTC),
		Opportunities: []domain.Opportunity{
			{ID: "o1", NetProfitUSD: 30},
			{ID: "o2", NetProfitUSD: 10},
		},
	}

	path, err := a.ArchiveCycle(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, "cycles/2026/04/09/c9.jsonl", path)
	assert.Equal(t, "application/x-ndjson", w.contentTypes[path])

	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "cycle", lines[0]["kind"])
	assert.Equal(t, "c9", lines[0]["cycle_id"])
	assert.NotContains(t, lines[0], "opportunities")
	assert.Equal(t, "opportunity", lines[1]["kind"])
	assert.Equal(t, "o1", lines[1]["id"])
	assert.EqualValues(t, 2, lines[2]["rank"])
}

func TestArchiveOpportunities(t *testing.T) {
	w := newMemWriter()
	store := &fakeOppStore{opps: []domain.Opportunity{{ID: "a"}, {ID: "b"}}}
	audit := &fakeAudit{}
	a := NewArchiver(w, store, audit)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	n, err := a.ArchiveOpportunities(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, store.before.Equal(cutoff))
	assert.Equal(t, 2, bytes.Count(w.objects["archive/opportunities/2026-03-01.jsonl"], []byte("\n")))
	require.Equal(t, []string{"archive.opportunities"}, audit.events)
	assert.Equal(t, int64(2), audit.detail[0]["count"])
}

func TestArchiveOpportunities_Empty(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, &fakeOppStore{}, &fakeAudit{})
	n, err := a.ArchiveOpportunities(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)

	n, err = NewArchiver(w, nil, nil).ArchiveOpportunities(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
