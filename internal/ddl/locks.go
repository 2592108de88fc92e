package ddl

import (
	"context"
	"sort"
	"sync"

	perrors "github.com/polyroute/polyroute/internal/errors"
)

// tableLocks serializes DDL on the same table while DDL on different tables
// proceeds in parallel.
type tableLocks struct {
	locks    map[int64]*sync.Mutex
	globalMu sync.RWMutex
	inFlight sync.WaitGroup
	closed   bool
	closedMu sync.RWMutex
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[int64]*sync.Mutex)}
}

// acquire locks the given tables in ascending id order and returns the
// function releasing them.
func (l *tableLocks) acquire(ctx context.Context, tableIDs ...int64) (func(), error) {
	l.closedMu.RLock()
	if l.closed {
		l.closedMu.RUnlock()
		return nil, perrors.NewLifecycleError(perrors.CodeNotRunning, "ddl manager is closed")
	}
	l.inFlight.Add(1)
	l.closedMu.RUnlock()

	ids := append([]int64(nil), tableIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	held := make([]*sync.Mutex, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
		l.inFlight.Done()
	}
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		lock := l.get(id)
		lock.Lock()
		held = append(held, lock)
	}

	if err := ctx.Err(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// get returns the lock for a table, creating one if needed.
func (l *tableLocks) get(tableID int64) *sync.Mutex {
	l.globalMu.RLock()
	if lock, exists := l.locks[tableID]; exists {
		l.globalMu.RUnlock()
		return lock
	}
	l.globalMu.RUnlock()

	l.globalMu.Lock()
	defer l.globalMu.Unlock()
	if lock, exists := l.locks[tableID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[tableID] = lock
	return lock
}

// close rejects new DDL and waits for in-flight DDL to complete.
func (l *tableLocks) close() {
	l.closedMu.Lock()
	l.closed = true
	l.closedMu.Unlock()

	l.inFlight.Wait()
}
