// Package ddl applies partitioning and placement changes to the catalog
// while keeping every column fully covered across all partitions.
package ddl

import (
	"context"
	"fmt"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/metrics"
	"github.com/polyroute/polyroute/internal/notify"
	"github.com/polyroute/polyroute/internal/partition"
	"github.com/polyroute/polyroute/pkg/types"
	"go.uber.org/zap"
)

// Catalog is the catalog access DDL needs.
type Catalog interface {
	catalog.Reader
	catalog.Writer
}

// Manager executes DDL statements.
type Manager struct {
	catalog  Catalog
	factory  *partition.Factory
	notifier *notify.Notifier
	logger   *zap.Logger
	locks    *tableLocks
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier publishes committed changes on n.
func WithNotifier(n *notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a DDL manager.
func New(cat Catalog, factory *partition.Factory, opts ...Option) *Manager {
	m := &Manager{
		catalog: cat,
		factory: factory,
		logger:  zap.NewNop(),
		locks:   newTableLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close rejects new DDL and waits for running statements.
func (m *Manager) Close() error {
	m.locks.close()
	return nil
}

func (m *Manager) publish(ev notify.Event) {
	if m.notifier != nil {
		m.notifier.Publish(ev)
	}
}

func observe(op string, err error) {
	metrics.DDLOperations.WithLabelValues(op, metrics.Outcome(err)).Inc()
}

// CreateTable creates an unpartitioned table and places all of its columns
// on every given store.
func (m *Manager) CreateTable(ctx context.Context, name string, columns []types.ColumnDef, stores []int64) (table *types.Table, err error) {
	defer func() { observe("create_table", err) }()
	if len(stores) == 0 {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument, "a table needs at least one store")
	}
	for _, id := range stores {
		if _, err := m.catalog.GetAdapter(ctx, id); err != nil {
			return nil, err
		}
	}

	table, err = m.catalog.CreateTable(ctx, name, columns)
	if err != nil {
		return nil, err
	}
	for _, adapterID := range stores {
		for _, col := range table.Columns {
			if err := m.catalog.AddColumnPlacement(ctx, types.ColumnPlacement{
				AdapterID:     adapterID,
				TableID:       table.ID,
				ColumnID:      col.ID,
				PlacementType: types.PlacementAutomatic,
			}); err != nil {
				return nil, fmt.Errorf("ddl: place column %q on adapter %d: %w", col.Name, adapterID, err)
			}
		}
		if err := m.catalog.UpdatePartitionsOnDataPlacement(ctx, adapterID, table.ID, table.PartitionIDs); err != nil {
			return nil, fmt.Errorf("ddl: data placement on adapter %d: %w", adapterID, err)
		}
	}

	m.publish(notify.Event{Type: notify.TableCreated, TableID: table.ID, PartitionIDs: table.PartitionIDs})
	m.logger.Info("created table", zap.String("table", table.Name), zap.Int64s("stores", stores))
	return m.catalog.GetTable(ctx, table.ID)
}

// DropTable removes a table with all of its partitions and placements.
func (m *Manager) DropTable(ctx context.Context, tableID int64) (err error) {
	defer func() { observe("drop_table", err) }()
	release, err := m.locks.acquire(ctx, tableID)
	if err != nil {
		return err
	}
	defer release()

	if err := m.catalog.DropTable(ctx, tableID); err != nil {
		return err
	}
	m.factory.ResetTable(tableID)
	m.publish(notify.Event{Type: notify.TableDropped, TableID: tableID})
	m.logger.Info("dropped table", zap.Int64("table_id", tableID))
	return nil
}

// EnableTiering attaches a hot/cold policy to a partitioned table. All
// partitions start cold.
func (m *Manager) EnableTiering(ctx context.Context, tableID int64, policy types.TieringPolicy) (err error) {
	defer func() { observe("enable_tiering", err) }()
	if err := policy.Validate(); err != nil {
		return perrors.Wrap(perrors.ErrCategoryValidation, perrors.CodeInvalidArgument, "invalid tiering policy", err)
	}
	release, err := m.locks.acquire(ctx, tableID)
	if err != nil {
		return err
	}
	defer release()

	table, err := m.catalog.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	if !table.IsPartitioned() {
		return perrors.Wrap(perrors.ErrCategoryValidation, perrors.CodeNotPartitioned,
			fmt.Sprintf("table %q is not partitioned", table.Name), types.ErrTieringOnUnpartitioned)
	}
	if err := m.catalog.UpdateTiering(ctx, tableID, &policy); err != nil {
		return err
	}
	for _, id := range table.PartitionIDs {
		if err := m.catalog.UpdatePartitionTier(ctx, id, types.TierCold); err != nil {
			return err
		}
	}
	m.publish(notify.Event{Type: notify.TieringChanged, TableID: tableID, PartitionIDs: table.PartitionIDs})
	m.logger.Info("enabled tiering",
		zap.String("table", table.Name),
		zap.Int("hot_in", policy.HotAccessPercentageIn),
		zap.Int("hot_out", policy.HotAccessPercentageOut))
	return nil
}

// DisableTiering removes the hot/cold policy of a table.
func (m *Manager) DisableTiering(ctx context.Context, tableID int64) (err error) {
	defer func() { observe("disable_tiering", err) }()
	release, err := m.locks.acquire(ctx, tableID)
	if err != nil {
		return err
	}
	defer release()

	if err := m.catalog.UpdateTiering(ctx, tableID, nil); err != nil {
		return err
	}
	m.publish(notify.Event{Type: notify.TieringChanged, TableID: tableID})
	return nil
}
