package frequency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/metrics"
	"github.com/polyroute/polyroute/internal/notify"
	"github.com/polyroute/polyroute/pkg/types"
	"go.uber.org/zap"
)

// Initialize starts the processing loop. It runs until the context is
// cancelled or Terminate is called.
func (m *Map) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return perrors.NewLifecycleError(perrors.CodeAlreadyInitialized, "frequency map is already running")
	}

	pool, err := ants.NewPool(m.config.Workers, ants.WithPanicHandler(func(v interface{}) {
		m.logger.Error("frequency worker panicked", zap.Any("panic", v))
	}))
	if err != nil {
		return perrors.NewInternalError("failed to create frequency worker pool", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.pool = pool
	m.cancel = cancel
	m.running = true
	m.done = make(chan struct{})
	if m.notifier != nil {
		m.sub = m.notifier.SubscribeAutoID()
	}

	go m.run(ctx, m.sub)
	m.logger.Info("frequency map started",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.Int("workers", m.config.Workers))
	return nil
}

// Terminate stops the processing loop and waits for the running cycle.
func (m *Map) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return perrors.NewLifecycleError(perrors.CodeNotRunning, "frequency map is not running")
	}

	m.cancel()
	<-m.done
	if m.sub != nil {
		m.notifier.Unsubscribe(m.sub.ID)
		m.sub = nil
	}
	m.pool.Release()
	m.running = false
	m.logger.Info("frequency map stopped")
	return nil
}

// Running reports whether the processing loop is active.
func (m *Map) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Map) run(ctx context.Context, sub *notify.Subscriber) {
	defer close(m.done)

	var events <-chan notify.Event
	if sub != nil {
		events = sub.Ch
	}

	m.runOnce(ctx)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.handleEvent(ev)
		}
	}
}

func (m *Map) handleEvent(ev notify.Event) {
	switch ev.Type {
	case notify.TableDropped:
		m.ForgetTable(ev.TableID)
	case notify.PartitioningRemoved:
		for _, id := range ev.PartitionIDs {
			m.counters.Delete(id)
		}
		m.plans.Delete(ev.TableID)
	case notify.PartitioningAdded:
		// counters of the new partitions may already be live
		keep := make(map[int64]bool, len(ev.PartitionIDs))
		for _, id := range ev.PartitionIDs {
			keep[id] = true
		}
		m.forget(ev.TableID, keep)
	default:
		return
	}
	m.logger.Debug("forgot partition counters",
		zap.Int64("table_id", ev.TableID), zap.Stringer("event", ev.Type))
}

// RunCycle evaluates every tiered table once.
func (m *Map) RunCycle(ctx context.Context) error {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return perrors.NewLifecycleError(perrors.CodeNotRunning, "frequency map is not running")
	}
	return m.cycle(ctx)
}

func (m *Map) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := m.cycle(ctx); err != nil {
		m.logger.Warn("frequency cycle failed", zap.Error(err))
	}
}

// cycle processes every tiered table on the worker pool. Per-table failures
// are logged and do not abort the cycle.
func (m *Map) cycle(ctx context.Context) error {
	start := m.now()
	cycleID := uuid.NewString()
	logger := m.logger.With(zap.String("cycle_id", cycleID))

	tables, err := m.catalog.ListTables(ctx)
	if err != nil {
		metrics.FrequencyCycles.WithLabelValues("error").Inc()
		return err
	}

	var wg sync.WaitGroup
	for _, t := range tables {
		if t.Tiering == nil || !t.IsPartitioned() {
			continue
		}
		table := t
		wg.Add(1)
		if err := m.pool.Submit(func() {
			defer wg.Done()
			m.processTable(ctx, logger, table, start)
		}); err != nil {
			wg.Done()
			logger.Warn("failed to schedule table", zap.String("table", table.Name), zap.Error(err))
		}
	}
	wg.Wait()

	m.pruneBefore(start.Add(-m.config.Retention))
	metrics.FrequencyCycles.WithLabelValues("ok").Inc()
	metrics.FrequencyCycleDuration.Observe(m.now().Sub(start).Seconds())
	return nil
}

func (m *Map) processTable(ctx context.Context, logger *zap.Logger, table *types.Table, invocation time.Time) {
	plan, err := m.DeterminePartitionFrequency(ctx, table, invocation)
	if err != nil {
		logger.Warn("frequency evaluation failed", zap.String("table", table.Name), zap.Error(err))
		return
	}
	m.plans.Store(table.ID, plan)
	if plan.Empty() || m.rebalancer == nil {
		return
	}
	if err := m.rebalancer.Rebalance(ctx, table, plan); err != nil {
		logger.Warn("rebalance failed", zap.String("table", table.Name), zap.Error(err))
		return
	}
	logger.Info("rebalanced table",
		zap.String("table", table.Name),
		zap.Int("cold_to_hot", len(plan.ColdToHot)),
		zap.Int("hot_to_cold", len(plan.HotToCold)))
}
