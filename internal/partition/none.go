package partition

import (
	"context"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// NoneManager serves unpartitioned tables, which hold one implicit partition.
type NoneManager struct {
	base
}

// NewNoneManager creates the manager for unpartitioned tables.
func NewNoneManager(reader catalog.Reader) *NoneManager {
	return &NoneManager{base{catalog: reader, ptype: types.PartitionNone}}
}

// RoutesByValue is false: there is only one partition.
func (m *NoneManager) RoutesByValue() bool { return false }

// TargetPartitionID returns the implicit partition.
func (m *NoneManager) TargetPartitionID(ctx context.Context, table *types.Table, value string) (int64, error) {
	if err := requirePartitions(table); err != nil {
		return 0, err
	}
	return table.PartitionIDs[0], nil
}

// ValidatePartitionSetup always fails; NONE is not a partition function.
func (m *NoneManager) ValidatePartitionSetup(setup Setup) error {
	return perrors.NewValidationError(perrors.CodeUnsupportedStrategy, "NONE is not a partition function")
}
