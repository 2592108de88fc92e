package partition

import (
	"context"
	"fmt"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// ListManager assigns values by exact membership in per-partition value lists.
type ListManager struct {
	base
}

// NewListManager creates a list partition manager.
func NewListManager(reader catalog.Reader) *ListManager {
	return &ListManager{base{catalog: reader, ptype: types.PartitionList}}
}

// AllowsUnboundPartition is true: unmatched values go to the unbound partition.
func (m *ListManager) AllowsUnboundPartition() bool { return true }

// TargetPartitionID returns the first partition, in table order, listing the
// value, falling back to the unbound partition.
func (m *ListManager) TargetPartitionID(ctx context.Context, table *types.Table, value string) (int64, error) {
	if err := requirePartitions(table); err != nil {
		return 0, err
	}
	partitions, err := tablePartitions(ctx, m.catalog, table)
	if err != nil {
		return 0, err
	}

	unbound := int64(-1)
	for _, p := range partitions {
		if p.HasQualifier(value) {
			return p.ID, nil
		}
		if p.IsUnbound && unbound < 0 {
			unbound = p.ID
		}
	}
	if unbound >= 0 {
		return unbound, nil
	}
	return 0, perrors.NewRoutingError(perrors.CodeNoMatchingPartition,
		fmt.Sprintf("no partition of table %q accepts value %q", table.Name, value))
}

// ValidatePartitionSetup requires one non-empty value group per partition
// plus the unbound partition, with no value listed twice.
func (m *ListManager) ValidatePartitionSetup(setup Setup) error {
	errs := validateQualified(m.ptype, setup)
	owner := make(map[string]int)
	for i, group := range setup.Qualifiers {
		for _, v := range group {
			if prev, dup := owner[v]; dup {
				errs.add(fmt.Sprintf("qualifiers[%d]", i), "value %q is already assigned to partition %d", v, prev)
				continue
			}
			owner[v] = i
		}
	}
	return errs.asError(m.ptype)
}

// tablePartitions loads the table's partitions in table order, restricted to
// the ids the table lists.
func tablePartitions(ctx context.Context, reader catalog.Reader, table *types.Table) ([]*types.Partition, error) {
	all, err := reader.GetPartitionsByTable(ctx, table.ID)
	if err != nil {
		return nil, fmt.Errorf("partition: partitions of table %q: %w", table.Name, err)
	}
	byID := make(map[int64]*types.Partition, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	out := make([]*types.Partition, 0, len(table.PartitionIDs))
	for _, id := range table.PartitionIDs {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
