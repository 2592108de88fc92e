package partition

import (
	"fmt"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// Factory resolves the manager for a partition type. Managers are created
// once and shared.
type Factory struct {
	managers map[types.PartitionType]Manager
}

// NewFactory creates a factory with a manager for every partition type.
func NewFactory(reader catalog.Reader) *Factory {
	return &Factory{managers: map[types.PartitionType]Manager{
		types.PartitionHash:       NewHashManager(reader),
		types.PartitionList:       NewListManager(reader),
		types.PartitionRange:      NewRangeManager(reader),
		types.PartitionRoundRobin: NewRoundRobinManager(reader),
		types.PartitionNone:       NewNoneManager(reader),
	}}
}

// Manager returns the manager for a partition type.
func (f *Factory) Manager(pt types.PartitionType) (Manager, error) {
	m, ok := f.managers[pt]
	if !ok {
		return nil, perrors.NewValidationError(perrors.CodeUnsupportedStrategy,
			fmt.Sprintf("unsupported partition type %q", pt))
	}
	return m, nil
}

// ManagerFor returns the manager for a table's partition function.
func (f *Factory) ManagerFor(table *types.Table) (Manager, error) {
	if table.PartitionType == "" {
		return f.Manager(types.PartitionNone)
	}
	return f.Manager(table.PartitionType)
}

// Types lists the partition types a table can be partitioned with.
func (f *Factory) Types() []types.PartitionType {
	var out []types.PartitionType
	for _, pt := range types.PartitionTypes {
		if _, ok := f.managers[pt]; ok && pt != types.PartitionNone {
			out = append(out, pt)
		}
	}
	return out
}

// Descriptors returns the UI descriptor of every partition function.
func (f *Factory) Descriptors() []FunctionInfo {
	pts := f.Types()
	out := make([]FunctionInfo, 0, len(pts))
	for _, pt := range pts {
		out = append(out, f.managers[pt].FunctionInfo())
	}
	return out
}

// ResetTable drops per-table routing state held by stateful managers.
func (f *Factory) ResetTable(tableID int64) {
	if rr, ok := f.managers[types.PartitionRoundRobin].(*RoundRobinManager); ok {
		rr.Reset(tableID)
	}
}
