package partition

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// RangeManager assigns numeric values by half-open ranges [min, max).
type RangeManager struct {
	base
}

// NewRangeManager creates a range partition manager.
func NewRangeManager(reader catalog.Reader) *RangeManager {
	return &RangeManager{base{catalog: reader, ptype: types.PartitionRange}}
}

// AllowsUnboundPartition is true: values outside every range go to the
// unbound partition.
func (m *RangeManager) AllowsUnboundPartition() bool { return true }

// SupportsColumnType accepts numeric columns only.
func (m *RangeManager) SupportsColumnType(t types.ColumnType) bool { return t.IsNumeric() }

// TargetPartitionID returns the first partition, in table order, whose range
// contains the value, falling back to the unbound partition.
func (m *RangeManager) TargetPartitionID(ctx context.Context, table *types.Table, value string) (int64, error) {
	if err := requirePartitions(table); err != nil {
		return 0, err
	}
	v, ok := parseNumber(value)
	if !ok {
		return 0, perrors.NewRoutingError(perrors.CodeInvalidValue,
			fmt.Sprintf("value %q for range partitioned table %q is not a number", value, table.Name))
	}
	partitions, err := tablePartitions(ctx, m.catalog, table)
	if err != nil {
		return 0, err
	}

	unbound := int64(-1)
	for _, p := range partitions {
		if p.IsUnbound {
			if unbound < 0 {
				unbound = p.ID
			}
			continue
		}
		lo, hi, err := rangeBounds(p.Qualifiers)
		if err != nil {
			return 0, perrors.NewInternalError(fmt.Sprintf("partition %d has corrupt bounds", p.ID), err)
		}
		if lo.Cmp(v) <= 0 && v.Cmp(hi) < 0 {
			return p.ID, nil
		}
	}
	if unbound >= 0 {
		return unbound, nil
	}
	return 0, perrors.NewRoutingError(perrors.CodeNoMatchingPartition,
		fmt.Sprintf("no partition of table %q contains value %s", table.Name, value))
}

// ValidatePartitionSetup requires one [min, max) pair per partition, plus the
// unbound partition, with min < max and no overlapping ranges.
func (m *RangeManager) ValidatePartitionSetup(setup Setup) error {
	errs := validateQualified(m.ptype, setup)
	if setup.PartitionColumn.Type != "" && !setup.PartitionColumn.Type.IsNumeric() {
		errs.add("column", "RANGE partitioning requires a numeric column, %q is %s",
			setup.PartitionColumn.Name, setup.PartitionColumn.Type)
	}

	type span struct {
		lo, hi *big.Rat
		index  int
	}
	var spans []span
	for i, group := range setup.Qualifiers {
		if len(group) == 0 {
			continue
		}
		lo, hi, err := rangeBounds(group)
		if err != nil {
			errs.add(fmt.Sprintf("qualifiers[%d]", i), "%v", err)
			continue
		}
		spans = append(spans, span{lo, hi, i})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo.Cmp(spans[j].lo) < 0 })
	for i := 1; i < len(spans); i++ {
		if spans[i].lo.Cmp(spans[i-1].hi) < 0 {
			errs.add(fmt.Sprintf("qualifiers[%d]", spans[i].index),
				"range overlaps the range of partition %d", spans[i-1].index)
		}
	}
	return errs.asError(m.ptype)
}

// rangeBounds parses a [min, max) qualifier pair.
func rangeBounds(q []string) (*big.Rat, *big.Rat, error) {
	if len(q) != 2 {
		return nil, nil, fmt.Errorf("range needs exactly a minimum and a maximum, got %d values", len(q))
	}
	lo, ok := parseNumber(q[0])
	if !ok {
		return nil, nil, fmt.Errorf("minimum %q is not a number", q[0])
	}
	hi, ok := parseNumber(q[1])
	if !ok {
		return nil, nil, fmt.Errorf("maximum %q is not a number", q[1])
	}
	if lo.Cmp(hi) >= 0 {
		return nil, nil, fmt.Errorf("minimum %s must be lower than maximum %s", q[0], q[1])
	}
	return lo, hi, nil
}

// parseNumber parses an exact decimal.
func parseNumber(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "/") {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}
