// Package catalog provides the authoritative metadata store for tables,
// partitions, adapters and placements.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// Reader is the read side of the catalog consumed by the partitioning core.
// Returned values are copies; callers may modify them freely.
type Reader interface {
	// GetTable returns a table with its partitions and placements.
	GetTable(ctx context.Context, tableID int64) (*types.Table, error)

	// GetTableByName returns a table by case-insensitive name.
	GetTableByName(ctx context.Context, name string) (*types.Table, error)

	// ListTables returns all tables ordered by id.
	ListTables(ctx context.Context) ([]*types.Table, error)

	// GetColumnPlacements returns every placement of a column ordered by adapter.
	GetColumnPlacements(ctx context.Context, columnID int64) ([]types.ColumnPlacement, error)

	// GetColumnPlacementsOnAdapter returns the placements of a table on one adapter.
	GetColumnPlacementsOnAdapter(ctx context.Context, adapterID, tableID int64) ([]types.ColumnPlacement, error)

	// GetPartitionsOnDataPlacement returns the partition ids an adapter stores
	// for a table, in table partition order.
	GetPartitionsOnDataPlacement(ctx context.Context, adapterID, tableID int64) ([]int64, error)

	// GetColumnPlacementsByPartition returns the placements of a column whose
	// adapter stores the given partition, ordered by adapter.
	GetColumnPlacementsByPartition(ctx context.Context, tableID, partitionID, columnID int64) ([]types.ColumnPlacement, error)

	// GetPartition retrieves a single partition by id.
	GetPartition(ctx context.Context, partitionID int64) (*types.Partition, error)

	// GetPartitionsByTable returns the partitions of a table in table order.
	GetPartitionsByTable(ctx context.Context, tableID int64) ([]*types.Partition, error)

	// GetAdapter retrieves a registered adapter.
	GetAdapter(ctx context.Context, adapterID int64) (*types.Adapter, error)

	// ListAdapters returns all registered adapters ordered by id.
	ListAdapters(ctx context.Context) ([]*types.Adapter, error)
}

// Writer is the mutation side of the catalog used by DDL.
type Writer interface {
	// RegisterAdapter adds a store under a unique name.
	RegisterAdapter(ctx context.Context, uniqueName string) (*types.Adapter, error)

	// CreateTable creates an unpartitioned table with one implicit partition.
	CreateTable(ctx context.Context, name string, columns []types.ColumnDef) (*types.Table, error)

	// DropTable removes a table with its partitions and placements.
	DropTable(ctx context.Context, tableID int64) error

	// AddColumnPlacement places a column on an adapter.
	AddColumnPlacement(ctx context.Context, placement types.ColumnPlacement) error

	// DeleteColumnPlacement removes a column from an adapter. When the adapter
	// no longer hosts any column of the table its data placement is removed.
	DeleteColumnPlacement(ctx context.Context, adapterID, columnID int64) error

	// UpdatePartitionsOnDataPlacement replaces the partitions an adapter
	// stores for a table.
	UpdatePartitionsOnDataPlacement(ctx context.Context, adapterID, tableID int64, partitionIDs []int64) error

	// DeleteDataPlacement removes every placement of a table on an adapter.
	DeleteDataPlacement(ctx context.Context, adapterID, tableID int64) error

	// AddPartition creates a partition that is not yet part of the table's
	// partition list. The assigned id is returned.
	AddPartition(ctx context.Context, partition types.Partition) (int64, error)

	// PartitionTable installs a partition function and its partitions,
	// replacing the previous partitions of the table.
	PartitionTable(ctx context.Context, tableID int64, partitionType types.PartitionType, columnID int64, partitionIDs []int64) error

	// MergeTable reverts a table to a single implicit partition stored on
	// every adapter that hosted it. The new partition id is returned.
	MergeTable(ctx context.Context, tableID int64) (int64, error)

	// UpdateRecordCount adds delta to a partition's record count.
	UpdateRecordCount(ctx context.Context, partitionID, delta int64) error

	// UpdatePartitionTier records the temperature class of a partition.
	UpdatePartitionTier(ctx context.Context, partitionID int64, tier types.Tier) error

	// UpdateTiering sets or clears (nil) the tiering policy of a table.
	UpdateTiering(ctx context.Context, tableID int64, policy *types.TieringPolicy) error
}

// Catalog combines the read and write sides with snapshot support.
type Catalog interface {
	Reader
	Writer

	// Dump returns a consistent copy of the whole catalog.
	Dump(ctx context.Context) (*Snapshot, error)

	// Restore loads a snapshot into an empty catalog, keeping its ids.
	Restore(ctx context.Context, snap *Snapshot) error

	// Close releases the catalog's resources.
	Close() error
}

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is a serializable copy of the catalog.
type Snapshot struct {
	Version          int                     `json:"version"`
	CreatedAt        time.Time               `json:"created_at"`
	Adapters         []types.Adapter         `json:"adapters"`
	Tables           []types.Table           `json:"tables"`
	Partitions       []types.Partition       `json:"partitions"`
	ColumnPlacements []types.ColumnPlacement `json:"column_placements"`
	DataPlacements   []DataPlacement         `json:"data_placements"`
}

// DataPlacement lists the partitions an adapter stores for a table.
type DataPlacement struct {
	AdapterID    int64   `json:"adapter_id"`
	TableID      int64   `json:"table_id"`
	PartitionIDs []int64 `json:"partition_ids"`
}

// Validate checks the internal references of a snapshot.
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("catalog: unsupported snapshot version %d", s.Version)
	}
	adapters := make(map[int64]bool, len(s.Adapters))
	for _, a := range s.Adapters {
		adapters[a.ID] = true
	}
	partitions := make(map[int64]int64, len(s.Partitions))
	for _, p := range s.Partitions {
		partitions[p.ID] = p.TableID
	}
	tables := make(map[int64]bool, len(s.Tables))
	for _, t := range s.Tables {
		tables[t.ID] = true
		for _, pid := range t.PartitionIDs {
			if partitions[pid] != t.ID {
				return fmt.Errorf("catalog: snapshot table %d references unknown partition %d", t.ID, pid)
			}
		}
	}
	for _, cp := range s.ColumnPlacements {
		if !adapters[cp.AdapterID] || !tables[cp.TableID] {
			return fmt.Errorf("catalog: snapshot placement of column %d has dangling references", cp.ColumnID)
		}
	}
	for _, dp := range s.DataPlacements {
		if !adapters[dp.AdapterID] || !tables[dp.TableID] {
			return fmt.Errorf("catalog: snapshot data placement (%d, %d) has dangling references", dp.AdapterID, dp.TableID)
		}
		for _, pid := range dp.PartitionIDs {
			if partitions[pid] != dp.TableID {
				return fmt.Errorf("catalog: snapshot data placement (%d, %d) references foreign partition %d",
					dp.AdapterID, dp.TableID, pid)
			}
		}
	}
	return nil
}

func validateColumnDefs(name string, columns []types.ColumnDef) error {
	if strings.TrimSpace(name) == "" {
		return perrors.NewValidationError(perrors.CodeInvalidArgument, "table name must not be empty")
	}
	if len(columns) == 0 {
		return perrors.NewValidationError(perrors.CodeInvalidArgument, "table needs at least one column")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if key == "" {
			return perrors.NewValidationError(perrors.CodeInvalidArgument, "column name must not be empty")
		}
		if seen[key] {
			return perrors.NewValidationError(perrors.CodeDuplicateName, fmt.Sprintf("duplicate column %q", c.Name))
		}
		seen[key] = true
		if _, err := types.ParseColumnType(string(c.Type)); err != nil {
			return perrors.NewValidationError(perrors.CodeUnsupportedColumnType, err.Error())
		}
	}
	return nil
}

func conflict(format string, args ...interface{}) error {
	return perrors.Newf(perrors.ErrCategoryCatalog, perrors.CodeConflict, format, args...)
}

// orderByTable sorts ids by their position in the table's partition list.
func orderByTable(ids []int64, table []int64) []int64 {
	pos := make(map[int64]int, len(table))
	for i, id := range table {
		pos[id] = i
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, iok := pos[ids[i]]
		pj, jok := pos[ids[j]]
		if iok != jok {
			return iok
		}
		if pi != pj {
			return pi < pj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func sortPlacementsByAdapter(ps []types.ColumnPlacement) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].AdapterID != ps[j].AdapterID {
			return ps[i].AdapterID < ps[j].AdapterID
		}
		return ps[i].ColumnID < ps[j].ColumnID
	})
}
