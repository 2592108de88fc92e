package partition

import (
	"context"

	"github.com/polyroute/polyroute/internal/catalog"
	"github.com/polyroute/polyroute/pkg/types"
	"github.com/spaolacci/murmur3"
)

// HashManager distributes values over partitions by a murmur3 hash code.
type HashManager struct {
	base
}

// NewHashManager creates a hash partition manager.
func NewHashManager(reader catalog.Reader) *HashManager {
	return &HashManager{base{catalog: reader, ptype: types.PartitionHash}}
}

// TargetPartitionID returns PartitionIDs[hash(value) mod n].
func (m *HashManager) TargetPartitionID(ctx context.Context, table *types.Table, value string) (int64, error) {
	if err := requirePartitions(table); err != nil {
		return 0, err
	}
	return table.PartitionIDs[bucket(hashCode(value), len(table.PartitionIDs))], nil
}

// ValidatePartitionSetup rejects qualifiers and fewer than two partitions.
func (m *HashManager) ValidatePartitionSetup(setup Setup) error {
	return validateCount(m.ptype, setup).asError(m.ptype)
}

// hashCode is the signed 32-bit hash of a value's canonical string form.
func hashCode(value string) int32 {
	return int32(murmur3.Sum32([]byte(value)))
}

// bucket maps a signed hash onto [0, n). The arithmetic is done in 64 bits
// so that math.MinInt32 cannot overflow.
func bucket(h int32, n int) int {
	m := int64(n)
	return int(((int64(h) % m) + m) % m)
}
