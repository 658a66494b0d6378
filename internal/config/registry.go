package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/paath/pkg/provider/compare"
)

// ErrComparerNotRegistered is returned by [Registry.CreateComparer] when no
// factory has been registered under the requested name.
var ErrComparerNotRegistered = errors.New("config: comparer not registered")

// ComparerFactory builds a comparer from its config entry.
type ComparerFactory func(ComparerEntry) (compare.Comparer, error)

// Registry maps comparer names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	comparers map[string]ComparerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		comparers: make(map[string]ComparerFactory),
	}
}

// RegisterComparer registers a comparer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterComparer(name string, factory ComparerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comparers[name] = factory
}

// CreateComparer instantiates a comparer using the factory registered under
// entry.Name. Returns [ErrComparerNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateComparer(entry ComparerEntry) (compare.Comparer, error) {
	r.mu.RLock()
	factory, ok := r.comparers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrComparerNotRegistered, entry.Name)
	}
	c, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create comparer %q: %w", entry.Name, err)
	}
	return c, nil
}

// Comparers returns the registered names in sorted order.
func (r *Registry) Comparers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.comparers))
	for name := range r.comparers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
