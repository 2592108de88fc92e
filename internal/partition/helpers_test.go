package partition

import (
	"context"
	"fmt"
	"testing"

	"github.com/polyroute/polyroute/internal/catalog"
	"github.com/polyroute/polyroute/pkg/types"
)

var testColumns = []types.ColumnDef{
	{Name: "id", Type: types.ColumnBigInt},
	{Name: "region", Type: types.ColumnVarchar},
	{Name: "amount", Type: types.ColumnDecimal},
}

// newPartitionedTable creates a table partitioned into n partitions on the
// given column. Qualifier groups are assigned to the first partitions; when
// unbound is set the last partition is the unbound one. No placements are
// created.
func newPartitionedTable(t *testing.T, cat *catalog.MemoryCatalog, pt types.PartitionType, column string, n int, qualifiers [][]string, unbound bool) *types.Table {
	t.Helper()
	ctx := context.Background()

	table, err := cat.CreateTable(ctx, fmt.Sprintf("t_%s_%d", pt, n), testColumns)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	col, ok := table.Column(column)
	if !ok {
		t.Fatalf("unknown column %q", column)
	}

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		p := types.Partition{
			TableID:      table.ID,
			Name:         fmt.Sprintf("part_%d", i),
			PartitionKey: col.Name,
		}
		if i < len(qualifiers) {
			p.Qualifiers = qualifiers[i]
		}
		if unbound && i == n-1 {
			p.Name = types.UnboundPartitionName
			p.IsUnbound = true
			p.Qualifiers = nil
		}
		id, err := cat.AddPartition(ctx, p)
		if err != nil {
			t.Fatalf("add partition: %v", err)
		}
		ids = append(ids, id)
	}
	if err := cat.PartitionTable(ctx, table.ID, pt, col.ID, ids); err != nil {
		t.Fatalf("partition table: %v", err)
	}
	return reload(t, cat, table.ID)
}

// placeOn places every column of the table on a new adapter storing the
// partitions at the given ordinals. Nil ordinals store all partitions.
func placeOn(t *testing.T, cat *catalog.MemoryCatalog, table *types.Table, name string, ordinals []int) int64 {
	t.Helper()
	ctx := context.Background()

	adapter, err := cat.RegisterAdapter(ctx, name)
	if err != nil {
		t.Fatalf("register adapter: %v", err)
	}
	for _, col := range table.Columns {
		if err := cat.AddColumnPlacement(ctx, types.ColumnPlacement{
			AdapterID: adapter.ID, TableID: table.ID, ColumnID: col.ID,
		}); err != nil {
			t.Fatalf("add column placement: %v", err)
		}
	}
	ids := table.PartitionIDs
	if ordinals != nil {
		ids = nil
		for _, o := range ordinals {
			ids = append(ids, table.PartitionIDs[o])
		}
	}
	if err := cat.UpdatePartitionsOnDataPlacement(ctx, adapter.ID, table.ID, ids); err != nil {
		t.Fatalf("update data placement: %v", err)
	}
	return adapter.ID
}

func reload(t *testing.T, cat catalog.Reader, tableID int64) *types.Table {
	t.Helper()
	table, err := cat.GetTable(context.Background(), tableID)
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	return table
}
