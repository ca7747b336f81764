package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"godetect/domain/core"
	"godetect/internal/errors"
)

// Key names a resource in the arena and fixes the Go type stored under it
type Key[T any] struct {
	name core.ResourceName
}

// NewKey creates a typed key
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: core.ResourceName(name)}
}

// Name returns the resource name
func (k Key[T]) Name() core.ResourceName { return k.name }

// Arena holds the artifacts produced during one pipeline run. Every resource
// is written once and read any number of times.
type Arena struct {
	mu     sync.RWMutex
	values map[core.ResourceName]any
}

// NewArena creates an empty arena
func NewArena() *Arena {
	return &Arena{values: make(map[core.ResourceName]any)}
}

// Put stores v under k. A second write to the same name is a configuration error.
func Put[T any](a *Arena, k Key[T], v T) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.values[k.name]; exists {
		return errors.WithCode(errors.CodeConfigInvalid,
			fmt.Errorf("%w: %q", core.ErrDuplicateProducer, k.name))
	}
	a.values[k.name] = v
	return nil
}

// Get returns the value stored under k
func Get[T any](a *Arena, k Key[T]) (T, error) {
	var zero T
	a.mu.RLock()
	v, ok := a.values[k.name]
	a.mu.RUnlock()
	if !ok {
		return zero, errors.WithCode(errors.CodeNotFound, core.NewNotFoundError(k.name.String()))
	}
	typed, ok := v.(T)
	if !ok {
		return zero, errors.ConfigInvalid(fmt.Sprintf("resource %q holds %T, want %T", k.name, v, zero))
	}
	return typed, nil
}

// Has reports whether a resource has been produced
func (a *Arena) Has(name core.ResourceName) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.values[name]
	return ok
}

// Names lists produced resources in sorted order
func (a *Arena) Names() []core.ResourceName {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]core.ResourceName, 0, len(a.values))
	for name := range a.values {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
