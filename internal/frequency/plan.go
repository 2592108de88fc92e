package frequency

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/metrics"
	"github.com/polyroute/polyroute/pkg/types"
)

// PartitionCount is the access count of one partition within a window.
type PartitionCount struct {
	PartitionID int64      `json:"partition_id"`
	Accesses    int64      `json:"accesses"`
	Tier        types.Tier `json:"tier"`
}

// Plan is the hot/cold assignment computed for a tiered table.
type Plan struct {
	TableID    int64            `json:"table_id"`
	Invocation time.Time        `json:"invocation"`
	Counts     []PartitionCount `json:"counts"` // descending by accesses
	ColdToHot  []int64          `json:"cold_to_hot"`
	HotToCold  []int64          `json:"hot_to_cold"`
}

// Empty reports whether the plan moves no partition.
func (p *Plan) Empty() bool {
	return len(p.ColdToHot) == 0 && len(p.HotToCold) == 0
}

// Rebalancer applies a plan.
type Rebalancer interface {
	Rebalance(ctx context.Context, table *types.Table, plan *Plan) error
}

// CatalogRebalancer records the planned tiers in the catalog. Moving data
// between stores is left to the storage adapters.
type CatalogRebalancer struct {
	writer catalog.Writer
}

// NewCatalogRebalancer creates a rebalancer writing through w.
func NewCatalogRebalancer(w catalog.Writer) *CatalogRebalancer {
	return &CatalogRebalancer{writer: w}
}

// Rebalance updates the tier of every moved partition.
func (r *CatalogRebalancer) Rebalance(ctx context.Context, table *types.Table, plan *Plan) error {
	for _, id := range plan.ColdToHot {
		if err := r.writer.UpdatePartitionTier(ctx, id, types.TierHot); err != nil {
			return fmt.Errorf("frequency: mark partition %d hot: %w", id, err)
		}
		metrics.TierMoves.WithLabelValues("to_hot").Inc()
	}
	for _, id := range plan.HotToCold {
		if err := r.writer.UpdatePartitionTier(ctx, id, types.TierCold); err != nil {
			return fmt.Errorf("frequency: mark partition %d cold: %w", id, err)
		}
		metrics.TierMoves.WithLabelValues("to_cold").Inc()
	}
	return nil
}

// DeterminePartitionFrequency ranks the partitions of a tiered table by
// their accesses in the policy window ending at invocation. The top
// HotAccessPercentageIn percent must be hot; hot partitions outside the top
// HotAccessPercentageOut percent become cold.
func (m *Map) DeterminePartitionFrequency(ctx context.Context, table *types.Table, invocation time.Time) (*Plan, error) {
	if !table.IsPartitioned() {
		return nil, types.ErrTieringOnUnpartitioned
	}
	policy := table.Tiering
	if policy == nil {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument,
			fmt.Sprintf("table %q has no tiering policy", table.Name))
	}

	partitions, err := m.catalog.GetPartitionsByTable(ctx, table.ID)
	if err != nil {
		return nil, fmt.Errorf("frequency: partitions of table %q: %w", table.Name, err)
	}
	tiers := make(map[int64]types.Tier, len(partitions))
	for _, p := range partitions {
		tiers[p.ID] = p.Tier
	}

	from := invocation.Add(-time.Duration(policy.FrequencyIntervalSeconds) * time.Second)
	counts := make([]PartitionCount, 0, len(table.PartitionIDs))
	for _, id := range table.PartitionIDs {
		counts = append(counts, PartitionCount{
			PartitionID: id,
			Accesses:    m.Accesses(id, from, invocation, policy.CostIndication),
			Tier:        tiers[id],
		})
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Accesses > counts[j].Accesses })

	plan := &Plan{TableID: table.ID, Invocation: invocation, Counts: counts}
	n := len(counts)
	hotIn := n * policy.HotAccessPercentageIn / 100
	hotOut := n * policy.HotAccessPercentageOut / 100
	for rank, c := range counts {
		switch {
		case rank < hotIn && c.Tier != types.TierHot:
			plan.ColdToHot = append(plan.ColdToHot, c.PartitionID)
		case rank >= hotOut && c.Tier == types.TierHot:
			plan.HotToCold = append(plan.HotToCold, c.PartitionID)
		}
	}
	return plan, nil
}
