package ddl

import (
	"context"
	"fmt"

	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/notify"
	"github.com/polyroute/polyroute/pkg/types"
	"go.uber.org/zap"
)

// AddPlacement places columns of a table on an adapter. Nil columnIDs places
// every column. Nil partitionIDs keeps the partitions the adapter already
// stores for the table, or all partitions for a new placement.
func (m *Manager) AddPlacement(ctx context.Context, adapterID, tableID int64, columnIDs, partitionIDs []int64) (err error) {
	defer func() { observe("add_placement", err) }()
	release, err := m.locks.acquire(ctx, tableID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := m.catalog.GetAdapter(ctx, adapterID); err != nil {
		return err
	}
	table, err := m.catalog.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	if columnIDs == nil {
		columnIDs = table.ColumnIDs()
	}
	for _, id := range columnIDs {
		if _, ok := table.ColumnByID(id); !ok {
			return perrors.NotFound("column", id)
		}
	}
	for _, id := range partitionIDs {
		if !table.HasPartition(id) {
			return perrors.NewRoutingError(perrors.CodeUnknownPartition,
				fmt.Sprintf("partition %d is not part of table %q", id, table.Name))
		}
	}

	existing, err := m.catalog.GetPartitionsOnDataPlacement(ctx, adapterID, tableID)
	if err != nil {
		return err
	}
	stored := union(existing, partitionIDs)
	if len(stored) == 0 {
		stored = table.PartitionIDs
	}

	placed := make(map[int64]bool)
	for _, id := range table.Placements[adapterID] {
		placed[id] = true
	}
	var added []int64
	for _, id := range columnIDs {
		if placed[id] {
			continue
		}
		if err := m.catalog.AddColumnPlacement(ctx, types.ColumnPlacement{
			AdapterID:     adapterID,
			TableID:       tableID,
			ColumnID:      id,
			PlacementType: types.PlacementManual,
		}); err != nil {
			return err
		}
		placed[id] = true
		added = append(added, id)
	}
	if err := m.catalog.UpdatePartitionsOnDataPlacement(ctx, adapterID, tableID, stored); err != nil {
		return err
	}

	m.publish(notify.Event{Type: notify.PlacementAdded, TableID: tableID, AdapterID: adapterID, PartitionIDs: stored})
	m.logger.Info("added placement",
		zap.String("table", table.Name),
		zap.Int64("adapter_id", adapterID),
		zap.Int64s("columns", added),
		zap.Int("partitions", len(stored)))
	return nil
}

// DropColumnPlacement removes one column from an adapter. It is refused when
// the column would lose its last placement or its last placement storing
// every partition.
func (m *Manager) DropColumnPlacement(ctx context.Context, adapterID, tableID, columnID int64) (err error) {
	defer func() { observe("drop_column_placement", err) }()
	release, err := m.locks.acquire(ctx, tableID)
	if err != nil {
		return err
	}
	defer release()

	table, err := m.catalog.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	if !hosts(table, adapterID, columnID) {
		return perrors.NewPlacementError(perrors.CodePlacementNotFound,
			fmt.Sprintf("column %d of table %q is not placed on adapter %d", columnID, table.Name, adapterID))
	}
	if err := m.checkDroppable(ctx, table, adapterID, columnID); err != nil {
		return err
	}
	if err := m.catalog.DeleteColumnPlacement(ctx, adapterID, columnID); err != nil {
		return err
	}

	m.publish(notify.Event{Type: notify.PlacementDropped, TableID: tableID, AdapterID: adapterID})
	m.logger.Info("dropped column placement",
		zap.String("table", table.Name), zap.Int64("adapter_id", adapterID), zap.Int64("column_id", columnID))
	return nil
}

// DropPlacement removes every column of a table from an adapter.
func (m *Manager) DropPlacement(ctx context.Context, adapterID, tableID int64) (err error) {
	defer func() { observe("drop_placement", err) }()
	release, err := m.locks.acquire(ctx, tableID)
	if err != nil {
		return err
	}
	defer release()

	table, err := m.catalog.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	if len(table.Placements[adapterID]) == 0 {
		return perrors.NewPlacementError(perrors.CodePlacementNotFound,
			fmt.Sprintf("table %q has no placement on adapter %d", table.Name, adapterID))
	}
	if err := m.dropPlacement(ctx, table, adapterID); err != nil {
		return err
	}
	m.logger.Info("dropped placement", zap.String("table", table.Name), zap.Int64("adapter_id", adapterID))
	return nil
}

// RegisterStore adds a store that tables can be placed on.
func (m *Manager) RegisterStore(ctx context.Context, uniqueName string) (adapter *types.Adapter, err error) {
	defer func() { observe("register_store", err) }()
	if uniqueName == "" {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument, "store name must not be empty")
	}
	adapter, err = m.catalog.RegisterAdapter(ctx, uniqueName)
	if err != nil {
		return nil, err
	}
	m.logger.Info("registered store", zap.String("name", adapter.UniqueName), zap.Int64("adapter_id", adapter.ID))
	return adapter, nil
}

// DropStore removes every placement hosted on an adapter. Nothing is removed
// unless every affected column keeps full coverage.
func (m *Manager) DropStore(ctx context.Context, adapterID int64) (err error) {
	defer func() { observe("drop_store", err) }()
	if _, err := m.catalog.GetAdapter(ctx, adapterID); err != nil {
		return err
	}
	tables, err := m.catalog.ListTables(ctx)
	if err != nil {
		return err
	}
	var ids []int64
	for _, t := range tables {
		if len(t.Placements[adapterID]) > 0 {
			ids = append(ids, t.ID)
		}
	}
	release, err := m.locks.acquire(ctx, ids...)
	if err != nil {
		return err
	}
	defer release()

	affected := make([]*types.Table, 0, len(ids))
	for _, id := range ids {
		table, err := m.catalog.GetTable(ctx, id)
		if err != nil {
			return err
		}
		for _, columnID := range table.Placements[adapterID] {
			if err := m.checkDroppable(ctx, table, adapterID, columnID); err != nil {
				return err
			}
		}
		affected = append(affected, table)
	}
	for _, table := range affected {
		if err := m.dropPlacement(ctx, table, adapterID); err != nil {
			return err
		}
	}
	m.logger.Info("dropped store", zap.Int64("adapter_id", adapterID), zap.Int("tables", len(affected)))
	return nil
}

func (m *Manager) dropPlacement(ctx context.Context, table *types.Table, adapterID int64) error {
	for _, columnID := range table.Placements[adapterID] {
		if err := m.checkDroppable(ctx, table, adapterID, columnID); err != nil {
			return err
		}
	}
	if err := m.catalog.DeleteDataPlacement(ctx, adapterID, table.ID); err != nil {
		return err
	}
	m.publish(notify.Event{Type: notify.PlacementDropped, TableID: table.ID, AdapterID: adapterID})
	return nil
}

// checkDroppable refuses removing the placement of a column on an adapter
// when it is the column's last placement or its last full placement.
func (m *Manager) checkDroppable(ctx context.Context, table *types.Table, adapterID, columnID int64) error {
	placements, err := m.catalog.GetColumnPlacements(ctx, columnID)
	if err != nil {
		return err
	}
	if len(placements) <= 1 {
		return perrors.NewPlacementError(perrors.CodeLastPlacement,
			fmt.Sprintf("column %d of table %q has no other placement", columnID, table.Name))
	}
	manager, err := m.factory.ManagerFor(table)
	if err != nil {
		return err
	}
	safe, err := manager.ProbePartitionDistributionChange(ctx, table, adapterID, columnID)
	if err != nil {
		return err
	}
	if !safe {
		return perrors.NewPlacementError(perrors.CodeLastFullPlacement,
			"last placement with full partition coverage").
			WithDetails(map[string]interface{}{"table": table.Name, "adapter_id": adapterID, "column_id": columnID})
	}
	return nil
}

// ModifyPartitionPlacement changes which partitions an adapter stores for a
// table. Partitions removed from the adapter must stay stored elsewhere for
// every column the adapter hosts.
func (m *Manager) ModifyPartitionPlacement(ctx context.Context, adapterID, tableID int64, partitionIDs []int64) (err error) {
	defer func() { observe("modify_partition_placement", err) }()
	release, err := m.locks.acquire(ctx, tableID)
	if err != nil {
		return err
	}
	defer release()

	table, err := m.catalog.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	columns := table.Placements[adapterID]
	if len(columns) == 0 {
		return perrors.NewPlacementError(perrors.CodePlacementNotFound,
			fmt.Sprintf("table %q has no placement on adapter %d", table.Name, adapterID))
	}
	if len(partitionIDs) == 0 {
		return perrors.NewValidationError(perrors.CodeInvalidArgument, "a placement must store at least one partition")
	}
	keep := make(map[int64]bool, len(partitionIDs))
	for _, id := range partitionIDs {
		if !table.HasPartition(id) {
			return perrors.NewRoutingError(perrors.CodeUnknownPartition,
				fmt.Sprintf("partition %d is not part of table %q", id, table.Name))
		}
		keep[id] = true
	}

	current, err := m.catalog.GetPartitionsOnDataPlacement(ctx, adapterID, tableID)
	if err != nil {
		return err
	}
	var removed []int64
	for _, id := range current {
		if !keep[id] {
			removed = append(removed, id)
		}
	}

	for _, columnID := range columns {
		for _, pid := range removed {
			others, err := m.catalog.GetColumnPlacementsByPartition(ctx, tableID, pid, columnID)
			if err != nil {
				return err
			}
			if !storedElsewhere(others, adapterID) {
				return perrors.NewPlacementError(perrors.CodeCoverageViolation,
					fmt.Sprintf("partition %d of column %d is stored only on adapter %d", pid, columnID, adapterID))
			}
		}
	}
	if len(current) == table.NumPartitions && len(keep) < table.NumPartitions {
		manager, err := m.factory.ManagerFor(table)
		if err != nil {
			return err
		}
		for _, columnID := range columns {
			safe, err := manager.ProbePartitionDistributionChange(ctx, table, adapterID, columnID)
			if err != nil {
				return err
			}
			if !safe {
				return perrors.NewPlacementError(perrors.CodeLastFullPlacement,
					"last placement with full partition coverage")
			}
		}
	}

	ordered := make([]int64, 0, len(keep))
	for _, id := range table.PartitionIDs {
		if keep[id] {
			ordered = append(ordered, id)
		}
	}
	if err := m.catalog.UpdatePartitionsOnDataPlacement(ctx, adapterID, tableID, ordered); err != nil {
		return err
	}

	if len(ordered) > len(current)-len(removed) {
		m.publish(notify.Event{Type: notify.PlacementAdded, TableID: tableID, AdapterID: adapterID, PartitionIDs: ordered})
	}
	if len(removed) > 0 {
		m.publish(notify.Event{Type: notify.PlacementDropped, TableID: tableID, AdapterID: adapterID, PartitionIDs: removed})
	}
	m.logger.Info("modified partition placement",
		zap.String("table", table.Name),
		zap.Int64("adapter_id", adapterID),
		zap.Int("partitions", len(ordered)),
		zap.Int("removed", len(removed)))
	return nil
}

func hosts(table *types.Table, adapterID, columnID int64) bool {
	for _, id := range table.Placements[adapterID] {
		if id == columnID {
			return true
		}
	}
	return false
}

func storedElsewhere(placements []types.ColumnPlacement, adapterID int64) bool {
	for _, p := range placements {
		if p.AdapterID != adapterID {
			return true
		}
	}
	return false
}

// union returns a followed by the ids of b not in a.
func union(a, b []int64) []int64 {
	seen := make(map[int64]bool, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
