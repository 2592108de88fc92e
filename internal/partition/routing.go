package partition

import (
	"context"
	"fmt"

	"github.com/polyroute/polyroute/internal/metrics"
	"github.com/polyroute/polyroute/pkg/types"
	"go.uber.org/zap"
)

// AccessRecorder receives the partition accesses observed by the router.
type AccessRecorder interface {
	RecordAccess(tableID int64, partitionIDs []int64, kind types.AccessKind)
}

// Router answers query-time routing questions for any table by delegating
// to the manager of the table's partition function.
type Router struct {
	factory  *Factory
	recorder AccessRecorder
	logger   *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithAccessRecorder feeds routed partitions to a frequency recorder.
func WithAccessRecorder(rec AccessRecorder) RouterOption {
	return func(r *Router) { r.recorder = rec }
}

// WithLogger sets the router's logger.
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// NewRouter creates a router on top of a manager factory.
func NewRouter(factory *Factory, opts ...RouterOption) (*Router, error) {
	if factory == nil {
		return nil, fmt.Errorf("routing: factory must not be nil")
	}
	r := &Router{factory: factory, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r, nil
}

// RouteValue returns the partition a row with the given partition column
// value is written to.
func (r *Router) RouteValue(ctx context.Context, table *types.Table, value string) (int64, error) {
	m, err := r.factory.ManagerFor(table)
	if err != nil {
		return 0, err
	}
	id, err := m.TargetPartitionID(ctx, table, value)
	metrics.RoutingDecisions.WithLabelValues(string(m.Type()), "route", metrics.Outcome(err)).Inc()
	if err != nil {
		r.logger.Debug("route failed",
			zap.String("table", table.Name), zap.String("value", value), zap.Error(err))
		return 0, err
	}
	r.record(table.ID, []int64{id}, types.AccessWrite)
	return id, nil
}

// RouteRows groups row indexes by target partition.
func (r *Router) RouteRows(ctx context.Context, table *types.Table, values []string) (map[int64][]int, error) {
	m, err := r.factory.ManagerFor(table)
	if err != nil {
		return nil, err
	}
	groups := make(map[int64][]int)
	for i, v := range values {
		id, err := m.TargetPartitionID(ctx, table, v)
		if err != nil {
			metrics.RoutingDecisions.WithLabelValues(string(m.Type()), "route", "error").Inc()
			return nil, fmt.Errorf("routing: failed to route row %d: %w", i, err)
		}
		groups[id] = append(groups[id], i)
	}
	metrics.RoutingDecisions.WithLabelValues(string(m.Type()), "route", "ok").Add(float64(len(values)))

	ids := make([]int64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	r.record(table.ID, ids, types.AccessWrite)
	return groups, nil
}

// PlanScan returns the placements needed to read rows whose partition
// column equals one of values. Without values, or when the partition
// function does not route by value, every partition is considered.
func (r *Router) PlanScan(ctx context.Context, table *types.Table, values []string) ([]types.ColumnPlacement, error) {
	m, err := r.factory.ManagerFor(table)
	if err != nil {
		return nil, err
	}

	var partitionIDs []int64
	if len(values) > 0 && m.RoutesByValue() {
		seen := make(map[int64]bool, len(values))
		for _, v := range values {
			id, err := m.TargetPartitionID(ctx, table, v)
			if err != nil {
				metrics.RoutingDecisions.WithLabelValues(string(m.Type()), "scan", "error").Inc()
				return nil, fmt.Errorf("routing: failed to target value %q: %w", v, err)
			}
			if !seen[id] {
				seen[id] = true
				partitionIDs = append(partitionIDs, id)
			}
		}
	}

	placements, err := m.RelevantPlacements(ctx, table, partitionIDs)
	metrics.RoutingDecisions.WithLabelValues(string(m.Type()), "scan", metrics.Outcome(err)).Inc()
	if err != nil {
		r.logger.Warn("scan planning failed", zap.String("table", table.Name), zap.Error(err))
		return nil, err
	}

	if partitionIDs == nil {
		partitionIDs = table.PartitionIDs
	}
	r.record(table.ID, partitionIDs, types.AccessRead)
	return placements, nil
}

func (r *Router) record(tableID int64, partitionIDs []int64, kind types.AccessKind) {
	if r.recorder != nil && len(partitionIDs) > 0 {
		r.recorder.RecordAccess(tableID, partitionIDs, kind)
	}
}
