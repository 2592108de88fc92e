package bootstrap

import (
	"sync"
	"testing"

	"github.com/polyroute/polyroute/internal/catalog"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/frequency"
	"github.com/polyroute/polyroute/internal/partition"
)

func TestFactorySetOnce(t *testing.T) {
	c := New()
	if _, err := c.Factory(); !perrors.HasCode(err, perrors.ErrCategoryLifecycle, perrors.CodeNotInitialized) {
		t.Fatalf("expected NOT_INITIALIZED before install, got %v", err)
	}

	cat := catalog.NewMemoryCatalog()
	first := partition.NewFactory(cat)
	got, err := c.SetAndGetFactory(first)
	if err != nil {
		t.Fatalf("SetAndGetFactory: %v", err)
	}
	if got != first {
		t.Fatal("SetAndGetFactory must return the installed factory")
	}

	if _, err := c.SetAndGetFactory(partition.NewFactory(cat)); !perrors.HasCode(err, perrors.ErrCategoryLifecycle, perrors.CodeAlreadyInitialized) {
		t.Fatalf("expected ALREADY_INITIALIZED on second install, got %v", err)
	}
	if f, err := c.Factory(); err != nil || f != first {
		t.Fatalf("Factory() = %p, %v; want the first factory", f, err)
	}
}

func TestFrequencyMapSetOnce(t *testing.T) {
	c := New()
	if _, err := c.FrequencyMap(); err == nil {
		t.Fatal("expected error before install")
	}
	cat := catalog.NewMemoryCatalog()
	m := frequency.NewMap(frequency.DefaultConfig(), cat, cat)
	if _, err := c.SetAndGetFrequencyMap(m); err != nil {
		t.Fatalf("SetAndGetFrequencyMap: %v", err)
	}
	if _, err := c.SetAndGetFrequencyMap(m); err == nil {
		t.Fatal("expected error on second install")
	}
	if got, _ := c.FrequencyMap(); got != m {
		t.Fatal("FrequencyMap() returned a different map")
	}
}

func TestNilInstallRejected(t *testing.T) {
	c := New()
	if _, err := c.SetAndGetFactory(nil); err == nil {
		t.Fatal("expected error for nil factory")
	}
	// a rejected nil install must not consume the slot
	if _, err := c.SetAndGetFactory(partition.NewFactory(catalog.NewMemoryCatalog())); err != nil {
		t.Fatalf("install after nil rejection: %v", err)
	}
}

func TestConcurrentInstallHasOneWinner(t *testing.T) {
	c := New()
	cat := catalog.NewMemoryCatalog()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.SetAndGetFactory(partition.NewFactory(cat)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful install, got %d", wins)
	}
}
