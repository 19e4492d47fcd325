// Package snapshot reads and writes the multi-venue pool snapshot document.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Loader reads a Snapshot either from a local file or from object storage.
// When both are configured the object store takes precedence.
type Loader struct {
	path    string
	blobKey string
	blobs   domain.BlobReader
	logger  *slog.Logger
}

// NewLoader creates a Loader. blobs may be nil when blobKey is empty.
func NewLoader(path, blobKey string, blobs domain.BlobReader, logger *slog.Logger) *Loader {
	return &Loader{
		path:    path,
		blobKey: blobKey,
		blobs:   blobs,
		logger:  logger.With(slog.String("component", "snapshot_loader")),
	}
}

// Source describes where Load reads from.
func (l *Loader) Source() string {
	if l.blobKey != "" && l.blobs != nil {
		return "blob:" + l.blobKey
	}
	return "file:" + l.path
}

// Load reads and decodes the snapshot. A blob key ending in "/" is a prefix:
// the newest .json object under it is read, which is how a host that does
// not ingest follows the snapshots another host archives. Any failure wraps
// domain.ErrSnapshot.
func (l *Loader) Load(ctx context.Context) (domain.Snapshot, error) {
	var (
		rc     io.ReadCloser
		source = l.Source()
		err    error
	)
	if l.blobKey != "" && l.blobs != nil {
		key := l.blobKey
		if strings.HasSuffix(key, "/") {
			key, err = l.latestUnder(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrSnapshot, source, err)
			}
			source = "blob:" + key
		}
		rc, err = l.blobs.Get(ctx, key)
	} else {
		rc, err = os.Open(l.path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrSnapshot, source, err)
	}
	defer rc.Close()

	snap, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSnapshot, source, err)
	}

	l.logger.Debug("snapshot loaded",
		slog.String("source", source),
		slog.Int("venues", len(snap)),
		slog.Int("pools", snap.PoolCount()),
	)
	return snap, nil
}

// latestUnder returns the key of the most recently modified .json object
// under prefix. Equal timestamps resolve to the lexically greatest key, which
// for archive keys is also the newest.
func (l *Loader) latestUnder(ctx context.Context, prefix string) (string, error) {
	infos, err := l.blobs.List(ctx, prefix)
	if err != nil {
		return "", err
	}
	var best *domain.BlobInfo
	for i := range infos {
		info := &infos[i]
		if !strings.HasSuffix(info.Path, ".json") {
			continue
		}
		if best == nil || info.LastModified.After(best.LastModified) ||
			(info.LastModified.Equal(best.LastModified) && info.Path > best.Path) {
			best = info
		}
	}
	if best == nil {
		return "", fmt.Errorf("no snapshot under %s: %w", prefix, domain.ErrNotFound)
	}
	return best.Path, nil
}

// Decode parses a snapshot document.
func Decode(r io.Reader) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("decode snapshot: document is null")
	}
	return snap, nil
}

// Save writes snap to path atomically through a temp file in the same
// directory followed by a rename.
func Save(path string, snap domain.Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}
