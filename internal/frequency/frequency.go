// Package frequency samples partition accesses and derives which partitions
// of a tiered table should be hot and which cold.
package frequency

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/polyroute/polyroute/internal/catalog"
	"github.com/polyroute/polyroute/internal/metrics"
	"github.com/polyroute/polyroute/internal/notify"
	"github.com/polyroute/polyroute/pkg/types"
	"go.uber.org/zap"
)

// Config holds configuration for the frequency map.
type Config struct {
	// CheckInterval is how often tiered tables are re-evaluated.
	CheckInterval time.Duration

	// BucketWidth is the time granularity of access counters.
	BucketWidth time.Duration

	// Retention bounds how long access buckets are kept. It should cover the
	// longest frequency interval of any tiering policy.
	Retention time.Duration

	// Workers is the number of tables processed in parallel.
	Workers int
}

// DefaultConfig returns the default frequency configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Minute,
		BucketWidth:   10 * time.Second,
		Retention:     24 * time.Hour,
		Workers:       4,
	}
}

// Map counts partition accesses and periodically rebalances tiered tables.
type Map struct {
	config     Config
	catalog    catalog.Reader
	rebalancer Rebalancer
	notifier   *notify.Notifier
	logger     *zap.Logger
	now        func() time.Time

	counters sync.Map // partition id -> *counter
	plans    sync.Map // table id -> *Plan

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	pool    *ants.Pool
	sub     *notify.Subscriber
}

// Option configures a Map.
type Option func(*Map)

// WithRebalancer replaces the catalog rebalancer.
func WithRebalancer(r Rebalancer) Option {
	return func(m *Map) { m.rebalancer = r }
}

// WithNotifier makes the map forget counters of repartitioned or dropped tables.
func WithNotifier(n *notify.Notifier) Option {
	return func(m *Map) { m.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Map) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Map) { m.now = now }
}

// NewMap creates a frequency map. Tier changes are written through w unless
// a rebalancer option is given.
func NewMap(config Config, reader catalog.Reader, w catalog.Writer, opts ...Option) *Map {
	def := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.BucketWidth <= 0 {
		config.BucketWidth = def.BucketWidth
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	m := &Map{
		config:  config,
		catalog: reader,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	if w != nil {
		m.rebalancer = NewCatalogRebalancer(w)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// counter holds the accesses of one partition.
type counter struct {
	tableID int64

	mu      sync.Mutex
	buckets map[int64]*[2]int64 // bucket start (unix seconds) -> reads, writes

	reads  atomic.Int64
	writes atomic.Int64
}

func kindIndex(kind types.AccessKind) int {
	if kind == types.AccessWrite {
		return 1
	}
	return 0
}

func (c *counter) add(bucket int64, kind types.AccessKind, n int64) {
	c.mu.Lock()
	b, ok := c.buckets[bucket]
	if !ok {
		b = new([2]int64)
		c.buckets[bucket] = b
	}
	b[kindIndex(kind)] += n
	c.mu.Unlock()

	if kind == types.AccessWrite {
		c.writes.Add(n)
	} else {
		c.reads.Add(n)
	}
}

// sum counts accesses in buckets starting within [from, to].
func (c *counter) sum(from, to int64, cost types.CostIndication) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for start, b := range c.buckets {
		if start < from || start > to {
			continue
		}
		if cost.Counts(types.AccessRead) {
			total += b[0]
		}
		if cost.Counts(types.AccessWrite) {
			total += b[1]
		}
	}
	return total
}

// prune drops buckets older than cutoff.
func (c *counter) prune(cutoff int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for start := range c.buckets {
		if start < cutoff {
			delete(c.buckets, start)
		}
	}
}

func (m *Map) bucketOf(t time.Time) int64 {
	return t.Truncate(m.config.BucketWidth).Unix()
}

// RecordAccess counts one access of the given kind for every partition id.
func (m *Map) RecordAccess(tableID int64, partitionIDs []int64, kind types.AccessKind) {
	if len(partitionIDs) == 0 {
		return
	}
	bucket := m.bucketOf(m.now())
	for _, id := range partitionIDs {
		v, ok := m.counters.Load(id)
		if !ok {
			v, _ = m.counters.LoadOrStore(id, &counter{tableID: tableID, buckets: make(map[int64]*[2]int64)})
		}
		v.(*counter).add(bucket, kind, 1)
	}
	metrics.PartitionAccesses.WithLabelValues(strconv.FormatInt(tableID, 10), string(kind)).
		Add(float64(len(partitionIDs)))
}

// Totals returns the lifetime read and write counts of a partition.
func (m *Map) Totals(partitionID int64) (reads, writes int64) {
	v, ok := m.counters.Load(partitionID)
	if !ok {
		return 0, 0
	}
	c := v.(*counter)
	return c.reads.Load(), c.writes.Load()
}

// Accesses returns the accesses of a partition in [from, to] that count
// under cost.
func (m *Map) Accesses(partitionID int64, from, to time.Time, cost types.CostIndication) int64 {
	v, ok := m.counters.Load(partitionID)
	if !ok {
		return 0
	}
	return v.(*counter).sum(m.bucketOf(from), to.Unix(), cost)
}

// ForgetTable drops the counters and the last plan of a table.
func (m *Map) ForgetTable(tableID int64) {
	m.forget(tableID, nil)
}

// forget drops the counters of a table except those of the kept partitions.
func (m *Map) forget(tableID int64, keep map[int64]bool) {
	m.counters.Range(func(key, value interface{}) bool {
		if value.(*counter).tableID == tableID && !keep[key.(int64)] {
			m.counters.Delete(key)
		}
		return true
	})
	m.plans.Delete(tableID)
}

// LastPlan returns the plan computed for a table by the latest cycle.
func (m *Map) LastPlan(tableID int64) (*Plan, bool) {
	v, ok := m.plans.Load(tableID)
	if !ok {
		return nil, false
	}
	return v.(*Plan), true
}

func (m *Map) pruneBefore(cutoff time.Time) {
	limit := m.bucketOf(cutoff)
	m.counters.Range(func(_, value interface{}) bool {
		value.(*counter).prune(limit)
		return true
	})
}
