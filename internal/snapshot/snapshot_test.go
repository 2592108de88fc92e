package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/storage"
	"github.com/polyroute/polyroute/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populated(t *testing.T) *catalog.MemoryCatalog {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()

	adapter, err := cat.RegisterAdapter(ctx, "hot-store")
	require.NoError(t, err)
	table, err := cat.CreateTable(ctx, "orders", []types.ColumnDef{
		{Name: "id", Type: types.ColumnBigInt},
		{Name: "region", Type: types.ColumnVarchar},
	})
	require.NoError(t, err)
	for _, col := range table.Columns {
		require.NoError(t, cat.AddColumnPlacement(ctx, types.ColumnPlacement{
			AdapterID: adapter.ID, TableID: table.ID, ColumnID: col.ID,
		}))
	}
	require.NoError(t, cat.UpdatePartitionsOnDataPlacement(ctx, adapter.ID, table.ID, table.PartitionIDs))
	return cat
}

func TestEncodeDecode(t *testing.T) {
	snap, err := populated(t).Dump(context.Background())
	require.NoError(t, err)

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.Equal(t, "PRSN", string(data[:4]))

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Summarize(snap), Summarize(got))
	assert.Equal(t, snap.Tables[0].Name, got.Tables[0].Name)
}

func TestDecodeRejectsCorruptArchives(t *testing.T) {
	snap, err := populated(t).Dump(context.Background())
	require.NoError(t, err)
	data, err := Encode(snap)
	require.NoError(t, err)

	tests := map[string][]byte{
		"empty":       nil,
		"short":       data[:4],
		"bad magic":   append([]byte("XXXX"), data[4:]...),
		"bad version": append(append([]byte("PRSN"), 9, 0, 0, 0), data[8:]...),
		"bad payload": append(append([]byte{}, data[:8]...), 0xff, 0xff, 0xff),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
		})
	}
}

func TestExportLoadRestore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	src := populated(t)

	exported, err := Export(ctx, src, store, "snapshots/catalog.snap")
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "snapshots/catalog.snap")
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := Load(ctx, store, "snapshots/catalog.snap")
	require.NoError(t, err)
	assert.Equal(t, Summarize(exported), Summarize(loaded))

	dst := catalog.NewMemoryCatalog()
	require.NoError(t, Restore(ctx, dst, loaded))

	table, err := dst.GetTableByName(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, table.Columns, 2)
	adapters, err := dst.ListAdapters(ctx)
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	stored, err := dst.GetPartitionsOnDataPlacement(ctx, adapters[0].ID, table.ID)
	require.NoError(t, err)
	assert.Equal(t, table.PartitionIDs, stored)

	// a second restore into a populated catalog is refused
	assert.Error(t, Restore(ctx, dst, loaded))
}

func TestLoadMissingArchive(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = Load(context.Background(), store, "nope.snap")
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound), "got %v", err)
}

func TestRestoreNil(t *testing.T) {
	err := Restore(context.Background(), catalog.NewMemoryCatalog(), nil)
	assert.True(t, perrors.HasCode(err, perrors.ErrCategoryValidation, perrors.CodeInvalidArgument))
}
