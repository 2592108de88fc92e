package ddl

import (
	"context"
	"fmt"
	"strings"

	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/notify"
	"github.com/polyroute/polyroute/internal/partition"
	"github.com/polyroute/polyroute/pkg/types"
	"go.uber.org/zap"
)

// PartitionRequest describes a PARTITION BY statement.
type PartitionRequest struct {
	TableID int64
	Type    types.PartitionType
	// Column is the name of the partition column
	Column        string
	NumPartitions int
	// PartitionNames optionally names the partitions in order
	PartitionNames []string
	// Qualifiers holds one value group per explicitly defined partition
	Qualifiers [][]string
}

// CreatePartitions partitions an unpartitioned table. Every store already
// hosting the table receives all new partitions.
func (m *Manager) CreatePartitions(ctx context.Context, req PartitionRequest) (table *types.Table, err error) {
	defer func() { observe("create_partitions", err) }()
	release, err := m.locks.acquire(ctx, req.TableID)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.createPartitions(ctx, req)
}

func (m *Manager) createPartitions(ctx context.Context, req PartitionRequest) (*types.Table, error) {
	table, err := m.catalog.GetTable(ctx, req.TableID)
	if err != nil {
		return nil, err
	}
	if table.IsPartitioned() {
		return nil, perrors.NewValidationError(perrors.CodeAlreadyPartitioned,
			fmt.Sprintf("table %q is already partitioned", table.Name))
	}
	manager, err := m.factory.Manager(req.Type)
	if err != nil {
		return nil, err
	}
	col, ok := table.Column(req.Column)
	if !ok {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument,
			fmt.Sprintf("table %q has no column %q", table.Name, req.Column))
	}
	if !manager.SupportsColumnType(col.Type) {
		return nil, perrors.NewValidationError(perrors.CodeUnsupportedColumnType,
			fmt.Sprintf("%s partitioning does not support column %q of type %s", req.Type, col.Name, col.Type))
	}
	names, err := sanitizeNames(req.PartitionNames, manager.AllowsUnboundPartition())
	if err != nil {
		return nil, err
	}

	setup := partition.Setup{
		Qualifiers:      req.Qualifiers,
		NumPartitions:   normalizeCount(req, names, manager.AllowsUnboundPartition()),
		PartitionNames:  names,
		PartitionColumn: col,
	}
	if err := manager.ValidatePartitionSetup(setup); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, setup.NumPartitions)
	for i := 0; i < setup.NumPartitions; i++ {
		p := types.Partition{
			TableID:      table.ID,
			Name:         fmt.Sprintf("part_%d", i),
			PartitionKey: col.Name,
		}
		if i < len(names) {
			p.Name = names[i]
		}
		if manager.AllowsUnboundPartition() && i == setup.NumPartitions-1 {
			p.Name = types.UnboundPartitionName
			p.IsUnbound = true
		} else if i < len(req.Qualifiers) {
			p.Qualifiers = append([]string(nil), req.Qualifiers[i]...)
		}
		id, err := m.catalog.AddPartition(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("ddl: create partition %q: %w", p.Name, err)
		}
		ids = append(ids, id)
	}

	if err := m.catalog.PartitionTable(ctx, table.ID, req.Type, col.ID, ids); err != nil {
		return nil, err
	}
	for _, adapterID := range table.Adapters() {
		if err := m.catalog.UpdatePartitionsOnDataPlacement(ctx, adapterID, table.ID, ids); err != nil {
			return nil, fmt.Errorf("ddl: data placement on adapter %d: %w", adapterID, err)
		}
	}
	m.factory.ResetTable(table.ID)

	m.publish(notify.Event{Type: notify.PartitioningAdded, TableID: table.ID, PartitionIDs: ids})
	m.logger.Info("partitioned table",
		zap.String("table", table.Name),
		zap.String("type", string(req.Type)),
		zap.String("column", col.Name),
		zap.Int("partitions", len(ids)))
	return m.catalog.GetTable(ctx, table.ID)
}

// sanitizeNames trims and lower-cases partition names and rejects duplicates.
func sanitizeNames(names []string, reserveUnbound bool) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			return nil, perrors.NewValidationError(perrors.CodeInvalidArgument, "partition name must not be empty")
		}
		if seen[n] || (reserveUnbound && n == types.UnboundPartitionName) {
			return nil, perrors.NewValidationError(perrors.CodeDuplicateName,
				fmt.Sprintf("partition name %q is used more than once", n))
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

// normalizeCount derives the partition count when the statement omits it.
func normalizeCount(req PartitionRequest, names []string, unbound bool) int {
	if req.NumPartitions != 0 {
		return req.NumPartitions
	}
	if unbound && len(req.Qualifiers) > 0 {
		return len(req.Qualifiers) + 1
	}
	if len(names) >= 2 {
		return len(names)
	}
	return 0
}

// RemovePartitioning merges all partitions of a table back into one. Every
// partition must be reachable through the current placements.
func (m *Manager) RemovePartitioning(ctx context.Context, tableID int64) (table *types.Table, err error) {
	defer func() { observe("remove_partitioning", err) }()
	release, err := m.locks.acquire(ctx, tableID)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.removePartitioning(ctx, tableID)
}

func (m *Manager) removePartitioning(ctx context.Context, tableID int64) (*types.Table, error) {
	table, err := m.catalog.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if !table.IsPartitioned() {
		return nil, perrors.NewValidationError(perrors.CodeNotPartitioned,
			fmt.Sprintf("table %q is not partitioned", table.Name))
	}
	manager, err := m.factory.ManagerFor(table)
	if err != nil {
		return nil, err
	}
	if _, err := manager.PlacementDistribution(ctx, table, nil); err != nil {
		return nil, fmt.Errorf("ddl: cannot merge table %q: %w", table.Name, err)
	}

	merged, err := m.catalog.MergeTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	m.factory.ResetTable(tableID)

	m.publish(notify.Event{Type: notify.PartitioningRemoved, TableID: tableID, PartitionIDs: table.PartitionIDs})
	m.logger.Info("merged table",
		zap.String("table", table.Name),
		zap.Int("partitions", len(table.PartitionIDs)),
		zap.Int64("partition_id", merged))
	return m.catalog.GetTable(ctx, tableID)
}

// Repartition replaces the partition function of a table. An unpartitioned
// table is simply partitioned.
func (m *Manager) Repartition(ctx context.Context, req PartitionRequest) (table *types.Table, err error) {
	defer func() { observe("repartition", err) }()
	release, err := m.locks.acquire(ctx, req.TableID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := m.catalog.GetTable(ctx, req.TableID)
	if err != nil {
		return nil, err
	}
	if _, err := m.factory.Manager(req.Type); err != nil {
		return nil, err
	}
	if current.IsPartitioned() {
		if _, err := m.removePartitioning(ctx, req.TableID); err != nil {
			return nil, err
		}
	}
	return m.createPartitions(ctx, req)
}
