package partition

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/polyroute/polyroute/internal/catalog"
	"github.com/polyroute/polyroute/pkg/types"
)

// RoundRobinManager rotates inserts across the partitions of each table.
// Counters live in process memory and restart at zero.
type RoundRobinManager struct {
	base
	counters sync.Map // table id -> *atomic.Uint64
}

// NewRoundRobinManager creates a round robin partition manager.
func NewRoundRobinManager(reader catalog.Reader) *RoundRobinManager {
	return &RoundRobinManager{base: base{catalog: reader, ptype: types.PartitionRoundRobin}}
}

// RoutesByValue is false: the value does not determine the partition.
func (m *RoundRobinManager) RoutesByValue() bool { return false }

// TargetPartitionID ignores the value and returns the next partition in turn.
func (m *RoundRobinManager) TargetPartitionID(ctx context.Context, table *types.Table, value string) (int64, error) {
	if err := requirePartitions(table); err != nil {
		return 0, err
	}
	c, _ := m.counters.LoadOrStore(table.ID, new(atomic.Uint64))
	next := c.(*atomic.Uint64).Add(1) - 1
	return table.PartitionIDs[next%uint64(len(table.PartitionIDs))], nil
}

// ValidatePartitionSetup rejects qualifiers and fewer than two partitions.
func (m *RoundRobinManager) ValidatePartitionSetup(setup Setup) error {
	return validateCount(m.ptype, setup).asError(m.ptype)
}

// Reset forgets the rotation state of a table.
func (m *RoundRobinManager) Reset(tableID int64) {
	m.counters.Delete(tableID)
}
