package partition

import (
	"context"
	"sync"
	"testing"

	"github.com/polyroute/polyroute/internal/catalog"
	"github.com/polyroute/polyroute/pkg/types"
)

func TestRoundRobinRotates(t *testing.T) {
	m := NewRoundRobinManager(catalog.NewMemoryCatalog())
	table := tableWithPartitions(3)
	table.PartitionType = types.PartitionRoundRobin

	for i := 0; i < 7; i++ {
		got, err := m.TargetPartitionID(context.Background(), table, "ignored")
		if err != nil {
			t.Fatalf("TargetPartitionID: %v", err)
		}
		if want := table.PartitionIDs[i%3]; got != want {
			t.Fatalf("call %d: got %d, want %d", i, got, want)
		}
	}

	m.Reset(table.ID)
	got, _ := m.TargetPartitionID(context.Background(), table, "")
	if got != table.PartitionIDs[0] {
		t.Errorf("after reset got %d, want first partition", got)
	}
}

func TestRoundRobinConcurrentBalance(t *testing.T) {
	m := NewRoundRobinManager(catalog.NewMemoryCatalog())
	table := tableWithPartitions(4)

	const workers, perWorker = 8, 100
	var (
		mu   sync.Mutex
		hits = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[int64]int)
			for i := 0; i < perWorker; i++ {
				id, err := m.TargetPartitionID(context.Background(), table, "")
				if err != nil {
					t.Errorf("TargetPartitionID: %v", err)
					return
				}
				local[id]++
			}
			mu.Lock()
			for id, n := range local {
				hits[id] += n
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, id := range table.PartitionIDs {
		if hits[id] != workers*perWorker/4 {
			t.Errorf("partition %d got %d rows, want %d", id, hits[id], workers*perWorker/4)
		}
	}
}

func TestRoundRobinTablesAreIndependent(t *testing.T) {
	m := NewRoundRobinManager(catalog.NewMemoryCatalog())
	a := tableWithPartitions(2)
	b := tableWithPartitions(2)
	b.ID = a.ID + 1

	m.TargetPartitionID(context.Background(), a, "")
	got, _ := m.TargetPartitionID(context.Background(), b, "")
	if got != b.PartitionIDs[0] {
		t.Errorf("table b started at %d, want its first partition", got)
	}
}

func TestRoundRobinDoesNotRouteByValue(t *testing.T) {
	m := NewRoundRobinManager(catalog.NewMemoryCatalog())
	if m.RoutesByValue() {
		t.Error("round robin must not route by value")
	}
	if m.AllowsUnboundPartition() {
		t.Error("round robin has no unbound partition")
	}
	if err := m.ValidatePartitionSetup(Setup{NumPartitions: 3}); err != nil {
		t.Errorf("valid setup rejected: %v", err)
	}
	if err := m.ValidatePartitionSetup(Setup{NumPartitions: 3, Qualifiers: [][]string{{"a"}}}); err == nil {
		t.Error("qualifiers must be rejected")
	}
}
