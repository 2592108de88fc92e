// Package snapshot archives the placement catalog in object storage.
//
// An archive is a small binary header followed by the snappy-compressed JSON
// form of a catalog.Snapshot:
//
//	4 bytes magic "PRSN" + 4 bytes little-endian format version + snappy(json)
package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/storage"
)

const headerSize = 8

var magic = []byte("PRSN")

// ErrCorrupt is returned when an archive cannot be decoded.
var ErrCorrupt = errors.New("snapshot: corrupt archive")

// Encode serializes a catalog snapshot into the archive format.
func Encode(snap *catalog.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument, "snapshot must not be nil")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to marshal: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	buf := make([]byte, headerSize+len(compressed))
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(snap.Version))
	copy(buf[headerSize:], compressed)
	return buf, nil
}

// Decode parses and validates an archive.
func Decode(data []byte) (*catalog.Snapshot, error) {
	if len(data) < headerSize || !bytes.Equal(data[0:4], magic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != catalog.SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}

	raw, err := snappy.Decode(nil, data[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: snappy decompress failed: %v", ErrCorrupt, err)
	}
	var snap catalog.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &snap, nil
}

// Export dumps the catalog and uploads the archive to objectPath.
func Export(ctx context.Context, cat catalog.Catalog, store storage.ObjectStorage, objectPath string) (*catalog.Snapshot, error) {
	snap, err := cat.Dump(ctx)
	if err != nil {
		return nil, err
	}
	data, err := Encode(snap)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "polyroute-snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("snapshot: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: failed to write temp file: %w", err)
	}
	if err := store.Upload(ctx, tmp.Name(), objectPath); err != nil {
		return nil, err
	}
	return snap, nil
}

// Load downloads and decodes the archive at objectPath.
func Load(ctx context.Context, store storage.ObjectStorage, objectPath string) (*catalog.Snapshot, error) {
	dir, err := os.MkdirTemp("", "polyroute-snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, "archive")
	if err := store.Download(ctx, objectPath, local); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to read archive: %w", err)
	}
	return Decode(data)
}

// Restore loads a snapshot into an empty catalog, keeping its ids.
func Restore(ctx context.Context, cat catalog.Catalog, snap *catalog.Snapshot) error {
	if snap == nil {
		return perrors.NewValidationError(perrors.CodeInvalidArgument, "snapshot must not be nil")
	}
	return cat.Restore(ctx, snap)
}

// Summary describes an archive for display.
type Summary struct {
	Version          int    `json:"version"`
	CreatedAt        string `json:"created_at"`
	Adapters         int    `json:"adapters"`
	Tables           int    `json:"tables"`
	Partitions       int    `json:"partitions"`
	ColumnPlacements int    `json:"column_placements"`
	DataPlacements   int    `json:"data_placements"`
}

// Summarize counts the entities in a snapshot.
func Summarize(snap *catalog.Snapshot) Summary {
	return Summary{
		Version:          snap.Version,
		CreatedAt:        snap.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Adapters:         len(snap.Adapters),
		Tables:           len(snap.Tables),
		Partitions:       len(snap.Partitions),
		ColumnPlacements: len(snap.ColumnPlacements),
		DataPlacements:   len(snap.DataPlacements),
	}
}
