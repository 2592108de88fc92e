// Package bootstrap holds the process-wide components that are installed
// exactly once during start-up.
package bootstrap

import (
	"sync"

	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/frequency"
	"github.com/polyroute/polyroute/internal/partition"
)

// slot is a value that can be set once.
type slot[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

func (s *slot[T]) setOnce(name string, v T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		var zero T
		return zero, perrors.NewLifecycleError(perrors.CodeAlreadyInitialized, name+" was already set")
	}
	s.value = v
	s.set = true
	return v, nil
}

func (s *slot[T]) get(name string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		var zero T
		return zero, perrors.NewLifecycleError(perrors.CodeNotInitialized, name+" was not set")
	}
	return s.value, nil
}

// Context carries the set-once components of a running process.
type Context struct {
	factory   slot[*partition.Factory]
	frequency slot[*frequency.Map]
}

// New creates an empty context.
func New() *Context {
	return &Context{}
}

// SetAndGetFactory installs the partition manager factory. A second call
// fails.
func (c *Context) SetAndGetFactory(f *partition.Factory) (*partition.Factory, error) {
	if f == nil {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument, "partition manager factory must not be nil")
	}
	return c.factory.setOnce("partition manager factory", f)
}

// Factory returns the installed factory.
func (c *Context) Factory() (*partition.Factory, error) {
	return c.factory.get("partition manager factory")
}

// SetAndGetFrequencyMap installs the frequency map. A second call fails.
func (c *Context) SetAndGetFrequencyMap(m *frequency.Map) (*frequency.Map, error) {
	if m == nil {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument, "frequency map must not be nil")
	}
	return c.frequency.setOnce("frequency map", m)
}

// FrequencyMap returns the installed frequency map.
func (c *Context) FrequencyMap() (*frequency.Map, error) {
	return c.frequency.get("frequency map")
}
