package catalog

import (
	"context"
	"os"
	"testing"

	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// forEachCatalog runs fn against a fresh memory and SQLite catalog.
func forEachCatalog(t *testing.T, fn func(t *testing.T, c Catalog)) {
	t.Run("memory", func(t *testing.T) {
		c := NewMemoryCatalog()
		defer c.Close()
		fn(t, c)
	})
	t.Run("sqlite", func(t *testing.T) {
		tmpFile, err := os.CreateTemp("", "catalog_test_*.db")
		if err != nil {
			t.Fatalf("failed to create temp file: %v", err)
		}
		tmpFile.Close()
		defer os.Remove(tmpFile.Name())

		c, err := NewSQLiteCatalog(tmpFile.Name())
		if err != nil {
			t.Fatalf("failed to create catalog: %v", err)
		}
		defer c.Close()
		fn(t, c)
	})
}

var ordersColumns = []types.ColumnDef{
	{Name: "id", Type: types.ColumnBigInt},
	{Name: "region", Type: types.ColumnVarchar},
	{Name: "amount", Type: types.ColumnDecimal},
}

func TestCatalog_CreateTable(t *testing.T) {
	forEachCatalog(t, func(t *testing.T, c Catalog) {
		ctx := context.Background()
		table, err := c.CreateTable(ctx, "orders", ordersColumns)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if table.PartitionType != types.PartitionNone {
			t.Errorf("expected NONE, got %s", table.PartitionType)
		}
		if table.NumPartitions != 1 || len(table.PartitionIDs) != 1 {
			t.Fatalf("expected one implicit partition, got %v", table.PartitionIDs)
		}
		if len(table.Columns) != 3 || table.Columns[1].Name != "region" {
			t.Errorf("unexpected columns %+v", table.Columns)
		}

		if _, err := c.CreateTable(ctx, "ORDERS", ordersColumns); !perrors.HasCode(err, perrors.ErrCategoryCatalog, perrors.CodeConflict) {
			t.Errorf("expected conflict for duplicate table, got %v", err)
		}

		byName, err := c.GetTableByName(ctx, "Orders")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if byName.ID != table.ID {
			t.Errorf("expected id %d, got %d", table.ID, byName.ID)
		}

		if _, err := c.GetTable(ctx, 424242); !perrors.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestCatalog_CreateTableValidation(t *testing.T) {
	forEachCatalog(t, func(t *testing.T, c Catalog) {
		ctx := context.Background()
		if _, err := c.CreateTable(ctx, "t", nil); err == nil {
			t.Error("expected error for table without columns")
		}
		dup := []types.ColumnDef{{Name: "a", Type: types.ColumnText}, {Name: "A", Type: types.ColumnText}}
		if _, err := c.CreateTable(ctx, "t", dup); !perrors.HasCode(err, perrors.ErrCategoryValidation, perrors.CodeDuplicateName) {
			t.Errorf("expected duplicate column error, got %v", err)
		}
	})
}

// setupPartitioned creates a table partitioned into n LIST-style partitions
// on two adapters, the first storing everything and the second only the
// first partition.
func setupPartitioned(t *testing.T, c Catalog, n int) (*types.Table, []int64, int64, int64) {
	t.Helper()
	ctx := context.Background()

	a1, err := c.RegisterAdapter(ctx, "hsqldb")
	if err != nil {
		t.Fatalf("register adapter: %v", err)
	}
	a2, err := c.RegisterAdapter(ctx, "postgres")
	if err != nil {
		t.Fatalf("register adapter: %v", err)
	}
	table, err := c.CreateTable(ctx, "orders", ordersColumns)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	for _, col := range table.Columns {
		for _, a := range []int64{a1.ID, a2.ID} {
			if err := c.AddColumnPlacement(ctx, types.ColumnPlacement{
				AdapterID: a, TableID: table.ID, ColumnID: col.ID, PlacementType: types.PlacementAutomatic,
			}); err != nil {
				t.Fatalf("add placement: %v", err)
			}
		}
	}

	region, _ := table.Column("region")
	var ids []int64
	for i := 0; i < n; i++ {
		id, err := c.AddPartition(ctx, types.Partition{
			TableID:      table.ID,
			Name:         "p",
			PartitionKey: "region",
			Qualifiers:   []string{string(rune('a' + i))},
			IsUnbound:    i == n-1,
		})
		if err != nil {
			t.Fatalf("add partition: %v", err)
		}
		ids = append(ids, id)
	}
	if err := c.PartitionTable(ctx, table.ID, types.PartitionList, region.ID, ids); err != nil {
		t.Fatalf("partition table: %v", err)
	}
	if err := c.UpdatePartitionsOnDataPlacement(ctx, a1.ID, table.ID, ids); err != nil {
		t.Fatalf("update data placement: %v", err)
	}
	if err := c.UpdatePartitionsOnDataPlacement(ctx, a2.ID, table.ID, ids[:1]); err != nil {
		t.Fatalf("update data placement: %v", err)
	}

	table, err = c.GetTable(ctx, table.ID)
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	return table, ids, a1.ID, a2.ID
}

func TestCatalog_PartitionTable(t *testing.T) {
	forEachCatalog(t, func(t *testing.T, c Catalog) {
		ctx := context.Background()
		table, ids, a1, a2 := setupPartitioned(t, c, 3)

		if table.PartitionType != types.PartitionList || table.NumPartitions != 3 {
			t.Fatalf("unexpected partitioning %s/%d", table.PartitionType, table.NumPartitions)
		}
		for i, id := range ids {
			if table.PartitionIDs[i] != id {
				t.Errorf("partition order mismatch at %d: got %d, want %d", i, table.PartitionIDs[i], id)
			}
		}
		if len(table.Placements[a1]) != 3 || len(table.Placements[a2]) != 3 {
			t.Errorf("unexpected placements %v", table.Placements)
		}

		parts, err := c.GetPartitionsByTable(ctx, table.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(parts) != 3 || !parts[2].IsUnbound || parts[0].Qualifiers[0] != "a" {
			t.Errorf("unexpected partitions %+v", parts)
		}

		on1, _ := c.GetPartitionsOnDataPlacement(ctx, a1, table.ID)
		on2, _ := c.GetPartitionsOnDataPlacement(ctx, a2, table.ID)
		if len(on1) != 3 || len(on2) != 1 || on2[0] != ids[0] {
			t.Errorf("unexpected data placements %v / %v", on1, on2)
		}

		region, _ := table.Column("region")
		byPart, err := c.GetColumnPlacementsByPartition(ctx, table.ID, ids[1], region.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(byPart) != 1 || byPart[0].AdapterID != a1 {
			t.Errorf("expected only adapter %d to store partition %d, got %+v", a1, ids[1], byPart)
		}
		byPart, _ = c.GetColumnPlacementsByPartition(ctx, table.ID, ids[0], region.ID)
		if len(byPart) != 2 || byPart[0].AdapterID != a1 || byPart[1].AdapterID != a2 {
			t.Errorf("expected both adapters ordered by id, got %+v", byPart)
		}

		if err := c.UpdatePartitionsOnDataPlacement(ctx, a2, table.ID, []int64{99999}); !perrors.HasCode(err, perrors.ErrCategoryCatalog, perrors.CodeConflict) {
			t.Errorf("expected conflict for foreign partition, got %v", err)
		}
	})
}

func TestCatalog_MergeTable(t *testing.T) {
	forEachCatalog(t, func(t *testing.T, c Catalog) {
		ctx := context.Background()
		table, ids, a1, a2 := setupPartitioned(t, c, 3)
		if err := c.UpdateRecordCount(ctx, ids[0], 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := c.UpdateRecordCount(ctx, ids[2], 7); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		implicit, err := c.MergeTable(ctx, table.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		merged, err := c.GetTable(ctx, table.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if merged.IsPartitioned() || merged.NumPartitions != 1 || merged.PartitionIDs[0] != implicit {
			t.Fatalf("expected single implicit partition, got %+v", merged)
		}
		p, err := c.GetPartition(ctx, implicit)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.RecordCount != 12 {
			t.Errorf("expected record counts to be summed, got %d", p.RecordCount)
		}
		for _, a := range []int64{a1, a2} {
			on, _ := c.GetPartitionsOnDataPlacement(ctx, a, table.ID)
			if len(on) != 1 || on[0] != implicit {
				t.Errorf("adapter %d should store the implicit partition, got %v", a, on)
			}
		}
		if _, err := c.GetPartition(ctx, ids[1]); !perrors.IsNotFound(err) {
			t.Errorf("old partitions should be removed, got %v", err)
		}
	})
}

func TestCatalog_DeleteColumnPlacement(t *testing.T) {
	forEachCatalog(t, func(t *testing.T, c Catalog) {
		ctx := context.Background()
		table, _, a1, a2 := setupPartitioned(t, c, 2)

		for i, col := range table.Columns {
			if err := c.DeleteColumnPlacement(ctx, a2, col.ID); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			on, _ := c.GetPartitionsOnDataPlacement(ctx, a2, table.ID)
			last := i == len(table.Columns)-1
			if last && len(on) != 0 {
				t.Errorf("data placement should be removed with the last column, got %v", on)
			}
			if !last && len(on) != 1 {
				t.Errorf("data placement should remain while columns are placed, got %v", on)
			}
		}

		if err := c.DeleteColumnPlacement(ctx, a2, table.Columns[0].ID); !perrors.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
		placements, _ := c.GetColumnPlacements(ctx, table.Columns[0].ID)
		if len(placements) != 1 || placements[0].AdapterID != a1 {
			t.Errorf("unexpected remaining placements %+v", placements)
		}
	})
}

func TestCatalog_TieringAndTier(t *testing.T) {
	forEachCatalog(t, func(t *testing.T, c Catalog) {
		ctx := context.Background()
		table, ids, _, _ := setupPartitioned(t, c, 2)
		policy := &types.TieringPolicy{
			HotAccessPercentageIn: 50, HotAccessPercentageOut: 50,
			FrequencyIntervalSeconds: 60, CostIndication: types.CostRead,
		}
		if err := c.UpdateTiering(ctx, table.ID, policy); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := c.UpdatePartitionTier(ctx, ids[0], types.TierHot); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := c.GetTable(ctx, table.ID)
		if got.Tiering == nil || got.Tiering.CostIndication != types.CostRead {
			t.Fatalf("expected tiering policy, got %+v", got.Tiering)
		}
		p, _ := c.GetPartition(ctx, ids[0])
		if p.Tier != types.TierHot {
			t.Errorf("expected HOT, got %q", p.Tier)
		}

		if err := c.UpdateTiering(ctx, table.ID, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p, _ = c.GetPartition(ctx, ids[0])
		if p.Tier != types.TierNone {
			t.Errorf("disabling tiering should reset tiers, got %q", p.Tier)
		}
	})
}

func TestCatalog_DumpRestore(t *testing.T) {
	forEachCatalog(t, func(t *testing.T, c Catalog) {
		ctx := context.Background()
		table, ids, a1, a2 := setupPartitioned(t, c, 3)
		snap, err := c.Dump(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(snap.Tables) != 1 || len(snap.Partitions) != 3 || len(snap.DataPlacements) != 2 {
			t.Fatalf("unexpected snapshot shape: %d tables, %d partitions, %d data placements",
				len(snap.Tables), len(snap.Partitions), len(snap.DataPlacements))
		}

		restored := NewMemoryCatalog()
		if err := restored.Restore(ctx, snap); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := restored.GetTable(ctx, table.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.NumPartitions != 3 || got.PartitionIDs[2] != ids[2] {
			t.Errorf("restored table mismatch: %+v", got)
		}
		on, _ := restored.GetPartitionsOnDataPlacement(ctx, a2, table.ID)
		if len(on) != 1 || on[0] != ids[0] {
			t.Errorf("restored data placement mismatch: %v", on)
		}
		if _, err := restored.RegisterAdapter(ctx, "new"); err != nil {
			t.Errorf("ids should continue after restore: %v", err)
		}
		if a, _ := restored.GetAdapter(ctx, a1); a == nil || a.UniqueName != "hsqldb" {
			t.Errorf("restored adapter mismatch: %+v", a)
		}

		if err := restored.Restore(ctx, snap); !perrors.HasCode(err, perrors.ErrCategoryCatalog, perrors.CodeConflict) {
			t.Errorf("restore into non-empty catalog should conflict, got %v", err)
		}
	})
}

func TestSQLiteCatalog_RestoreFromSnapshot(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryCatalog()
	table, ids, _, a2 := setupPartitioned(t, src, 2)
	snap, err := src.Dump(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tmpFile, err := os.CreateTemp("", "catalog_restore_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	dst, err := NewSQLiteCatalog(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	defer dst.Close()

	if err := dst.Restore(ctx, snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := dst.GetTable(ctx, table.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PartitionType != types.PartitionList || got.PartitionIDs[1] != ids[1] {
		t.Errorf("restored table mismatch: %+v", got)
	}
	on, _ := dst.GetPartitionsOnDataPlacement(ctx, a2, table.ID)
	if len(on) != 1 || on[0] != ids[0] {
		t.Errorf("restored data placement mismatch: %v", on)
	}
}

func TestSnapshotValidate(t *testing.T) {
	snap := &Snapshot{
		Version: SnapshotVersion,
		Tables:  []types.Table{{ID: 1, PartitionIDs: []int64{5}}},
	}
	if err := snap.Validate(); err == nil {
		t.Error("expected error for dangling partition reference")
	}
	snap.Version = 99
	if err := snap.Validate(); err == nil {
		t.Error("expected error for unknown version")
	}
}
