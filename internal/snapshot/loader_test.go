package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "uniswap_v3": {
    "data": [{
      "id": "eth_0xpool",
      "type": "pool",
      "attributes": {"name": "WETH / USDC 0.05%", "address": "0xpool", "reserve_in_usd": "150000.5",
                     "base_token_price_usd": "3000", "quote_token_price_usd": "1"},
      "relationships": {
        "base_token": {"data": {"id": "eth_0xWETH", "type": "token"}},
        "quote_token": {"data": {"id": "eth_0xUSDC", "type": "token"}}
      }
    }],
    "included": [
      {"id": "eth_0xWETH", "type": "token", "attributes": {"symbol": "WETH", "decimals": 18}},
      {"id": "eth_0xUSDC", "type": "token", "attributes": {"symbol": "USDC", "decimals": 6}},
      {"id": "uniswap_v3", "type": "dex", "attributes": {"symbol": ""}}
    ]
  }
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memBlobs struct {
	objects  map[string][]byte
	modified map[string]time.Time
	listErr  error
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.BlobInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b)), LastModified: m.modified[path]})
		}
	}
	return out, nil
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	snap, err := NewLoader(path, "", nil, testLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"uniswap_v3"}, snap.VenueIDs())
	assert.Equal(t, 1, snap.PoolCount())

	dir := snap.TokenDirectory()
	assert.Len(t, dir, 2)
	assert.Equal(t, "WETH", dir["eth_0xWETH"].Attributes.Symbol)
	assert.Equal(t, "0xweth", domain.TokenAddress("eth_0xWETH"))
}

func TestLoadFromBlobTakesPrecedence(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{"snapshots/latest.json": []byte(sample)}}
	l := NewLoader("/does/not/exist.json", "snapshots/latest.json", blobs, testLogger())
	assert.Equal(t, "blob:snapshots/latest.json", l.Source())

	snap, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.PoolCount())
}

func TestLoadFailuresAreSnapshotErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLoader(filepath.Join(dir, "missing.json"), "", nil, testLogger()).Load(context.Background())
	require.ErrorIs(t, err, domain.ErrSnapshot)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = NewLoader(bad, "", nil, testLogger()).Load(context.Background())
	require.ErrorIs(t, err, domain.ErrSnapshot)

	null := filepath.Join(dir, "null.json")
	require.NoError(t, os.WriteFile(null, []byte("null"), 0o600))
	_, err = NewLoader(null, "", nil, testLogger()).Load(context.Background())
	require.ErrorIs(t, err, domain.ErrSnapshot)
}

func TestSaveRoundTrip(t *testing.T) {
	snap, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "pools.json")
	require.NoError(t, Save(path, snap))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")

	got, err := NewLoader(path, "", nil, testLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestLoadNewestUnderPrefix(t *testing.T) {
	older := strings.Replace(sample, "uniswap_v3", "sushiswap", -1)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	blobs := &memBlobs{
		objects: map[string][]byte{
			"snapshots/2026/10/01/1759319000.json": []byte(older),
			"snapshots/2026/10/01/1759320000.json": []byte(sample),
			"snapshots/2026/10/01/notes.txt":       []byte("ignored"),
		},
		modified: map[string]time.Time{
			"snapshots/2026/10/01/1759319000.json": base,
			"snapshots/2026/10/01/1759320000.json": base.Add(time.Minute),
			"snapshots/2026/10/01/notes.txt":       base.Add(time.Hour),
		},
	}

	snap, err := NewLoader("", "snapshots/", blobs, testLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"uniswap_v3"}, snap.VenueIDs())
}

func TestLoadPrefixWithoutSnapshots(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{"snapshots/readme.txt": []byte("x")}}
	_, err := NewLoader("", "snapshots/", blobs, testLogger()).Load(context.Background())
	require.ErrorIs(t, err, domain.ErrSnapshot)
	assert.Contains(t, err.Error(), "no snapshot under snapshots/")

	blobs.listErr = errors.New("access denied")
	_, err = NewLoader("", "snapshots/", blobs, testLogger()).Load(context.Background())
	require.ErrorIs(t, err, domain.ErrSnapshot)
	assert.Contains(t, err.Error(), "access denied")
}
