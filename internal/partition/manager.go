// Package partition decides which partition owns a value and which column
// placements are needed to read a set of partitions.
package partition

import (
	"context"
	"fmt"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/metrics"
	"github.com/polyroute/polyroute/pkg/types"
)

// Manager is the strategy implemented by every partition function.
// Implementations are safe for concurrent use.
type Manager interface {
	// Type returns the partition function implemented by the manager.
	Type() types.PartitionType

	// TargetPartitionID maps a column value to exactly one partition id of
	// the table.
	TargetPartitionID(ctx context.Context, table *types.Table, value string) (int64, error)

	// ValidatePartitionDistribution reports whether every column has at
	// least one placement storing all partitions.
	ValidatePartitionDistribution(ctx context.Context, table *types.Table) (bool, error)

	// ProbePartitionDistributionChange reports whether dropping the column
	// placement on storeID keeps the column fully covered.
	ProbePartitionDistributionChange(ctx context.Context, table *types.Table, storeID, columnID int64) (bool, error)

	// RelevantPlacements returns placements sufficient to read the given
	// partitions. Nil partitionIDs means any partition may be needed.
	RelevantPlacements(ctx context.Context, table *types.Table, partitionIDs []int64) ([]types.ColumnPlacement, error)

	// PlacementDistribution returns, per partition, one placement per
	// column storing that partition. Nil partitionIDs means all partitions.
	PlacementDistribution(ctx context.Context, table *types.Table, partitionIDs []int64) (map[int64][]types.ColumnPlacement, error)

	// ValidatePartitionSetup checks a requested partitioning.
	ValidatePartitionSetup(setup Setup) error

	// FunctionInfo returns the UI descriptor of the partition function.
	FunctionInfo() FunctionInfo

	// AllowsUnboundPartition reports whether a catch-all partition exists.
	AllowsUnboundPartition() bool

	// SupportsColumnType reports whether the function can partition a
	// column of the given type.
	SupportsColumnType(t types.ColumnType) bool

	// RoutesByValue reports whether a value identifies its partition. When
	// false, reads must consider every partition.
	RoutesByValue() bool
}

// base implements the catalog-backed behaviour shared by all managers.
type base struct {
	catalog catalog.Reader
	ptype   types.PartitionType
}

func (b *base) Type() types.PartitionType { return b.ptype }

func (b *base) FunctionInfo() FunctionInfo { return describe(b.ptype) }

func (b *base) AllowsUnboundPartition() bool { return false }

func (b *base) SupportsColumnType(types.ColumnType) bool { return true }

func (b *base) RoutesByValue() bool { return true }

// placementsWithAllPartitions returns the placements of a column whose data
// placement stores all numPartitions partitions of the table.
func (b *base) placementsWithAllPartitions(ctx context.Context, table *types.Table, columnID int64, numPartitions int) ([]types.ColumnPlacement, error) {
	placements, err := b.catalog.GetColumnPlacements(ctx, columnID)
	if err != nil {
		return nil, fmt.Errorf("partition: placements of column %d: %w", columnID, err)
	}

	var full []types.ColumnPlacement
	for _, p := range placements {
		stored, err := b.catalog.GetPartitionsOnDataPlacement(ctx, p.AdapterID, table.ID)
		if err != nil {
			return nil, fmt.Errorf("partition: partitions on adapter %d: %w", p.AdapterID, err)
		}
		count := 0
		for _, id := range stored {
			if table.HasPartition(id) {
				count++
			}
		}
		if count == numPartitions {
			full = append(full, p)
		}
	}
	return full, nil
}

// ValidatePartitionDistribution reports whether every column is fully covered.
func (b *base) ValidatePartitionDistribution(ctx context.Context, table *types.Table) (bool, error) {
	for _, columnID := range table.ColumnIDs() {
		full, err := b.placementsWithAllPartitions(ctx, table, columnID, table.NumPartitions)
		if err != nil {
			return false, err
		}
		if len(full) == 0 {
			return false, nil
		}
	}
	return true, nil
}

// ProbePartitionDistributionChange returns false when the placement on
// storeID is the only one of the column that stores all partitions. The
// column must belong to the table and be placed on storeID.
func (b *base) ProbePartitionDistributionChange(ctx context.Context, table *types.Table, storeID, columnID int64) (bool, error) {
	if _, ok := table.ColumnByID(columnID); !ok {
		return false, perrors.NotFound("column", columnID)
	}
	if !placedOn(table, storeID, columnID) {
		return false, perrors.NewPlacementError(perrors.CodePlacementNotFound,
			fmt.Sprintf("column %d of table %q is not placed on adapter %d", columnID, table.Name, storeID))
	}
	full, err := b.placementsWithAllPartitions(ctx, table, columnID, table.NumPartitions)
	if err != nil {
		return false, err
	}
	safe := true
	if len(full) <= 1 {
		for _, p := range full {
			if p.AdapterID == storeID {
				safe = false
			}
		}
	}
	metrics.PlacementProbes.WithLabelValues(probeLabel(safe)).Inc()
	return safe, nil
}

func placedOn(table *types.Table, storeID, columnID int64) bool {
	for _, id := range table.Placements[storeID] {
		if id == columnID {
			return true
		}
	}
	return false
}

func probeLabel(safe bool) string {
	if safe {
		return "safe"
	}
	return "unsafe"
}

// RelevantPlacements returns placements sufficient to read the given partitions.
func (b *base) RelevantPlacements(ctx context.Context, table *types.Table, partitionIDs []int64) ([]types.ColumnPlacement, error) {
	if len(partitionIDs) == 0 {
		return b.worstCasePlacements(ctx, table)
	}

	dist, err := b.PlacementDistribution(ctx, table, partitionIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[types.ColumnPlacement]bool)
	var out []types.ColumnPlacement
	for _, pid := range partitionIDs {
		for _, p := range dist[pid] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// worstCasePlacements picks, per column, the first placement storing every
// partition.
func (b *base) worstCasePlacements(ctx context.Context, table *types.Table) ([]types.ColumnPlacement, error) {
	out := make([]types.ColumnPlacement, 0, len(table.Columns))
	for _, columnID := range table.ColumnIDs() {
		full, err := b.placementsWithAllPartitions(ctx, table, columnID, table.NumPartitions)
		if err != nil {
			return nil, err
		}
		if len(full) == 0 {
			return nil, perrors.NewPlacementError(perrors.CodeCoverageViolation,
				fmt.Sprintf("column %d of table %q has no placement storing all partitions", columnID, table.Name))
		}
		out = append(out, full[0])
	}
	return out, nil
}

// PlacementDistribution selects, per partition and column, the first
// placement whose adapter stores that partition.
func (b *base) PlacementDistribution(ctx context.Context, table *types.Table, partitionIDs []int64) (map[int64][]types.ColumnPlacement, error) {
	if partitionIDs == nil {
		partitionIDs = table.PartitionIDs
	}
	dist := make(map[int64][]types.ColumnPlacement, len(partitionIDs))
	for _, pid := range partitionIDs {
		if !table.HasPartition(pid) {
			return nil, perrors.NewRoutingError(perrors.CodeUnknownPartition,
				fmt.Sprintf("partition %d is not part of table %q", pid, table.Name))
		}
		if _, done := dist[pid]; done {
			continue
		}
		placements := make([]types.ColumnPlacement, 0, len(table.Columns))
		for _, columnID := range table.ColumnIDs() {
			candidates, err := b.catalog.GetColumnPlacementsByPartition(ctx, table.ID, pid, columnID)
			if err != nil {
				return nil, fmt.Errorf("partition: placements of partition %d: %w", pid, err)
			}
			if len(candidates) == 0 {
				return nil, perrors.NewRoutingError(perrors.CodeUncoveredPartition,
					fmt.Sprintf("no placement of column %d stores partition %d of table %q", columnID, pid, table.Name))
			}
			placements = append(placements, candidates[0])
		}
		dist[pid] = placements
	}
	return dist, nil
}

// requirePartitions fails when a table has no partition to route to.
func requirePartitions(table *types.Table) error {
	if len(table.PartitionIDs) == 0 {
		return perrors.Wrap(perrors.ErrCategoryInternal, perrors.CodeNoPartitions,
			fmt.Sprintf("table %q has no partitions", table.Name), nil)
	}
	return nil
}
