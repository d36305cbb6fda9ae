package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/adnsalim/murattil/internal/store"
)

// ErrBackendNotRegistered is returned by [Registry.CreateStore] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: storage backend not registered")

// Registry maps storage backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[Backend]func(StorageConfig) (store.ContentStore, error)
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stores: make(map[Backend]func(StorageConfig) (store.ContentStore, error)),
	}
}

// DefaultRegistry returns a registry with the built-in backends registered:
// sqlite and memory.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterStore(BackendSQLite, func(cfg StorageConfig) (store.ContentStore, error) {
		return store.OpenSQLite(cfg.Path)
	})
	r.RegisterStore(BackendMemory, func(StorageConfig) (store.ContentStore, error) {
		return store.NewMemStore(), nil
	})
	return r
}

// RegisterStore registers a content-store factory under backend.
// Subsequent calls with the same backend overwrite the previous registration.
func (r *Registry) RegisterStore(backend Backend, factory func(StorageConfig) (store.ContentStore, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[backend] = factory
}

// CreateStore instantiates the content store selected by cfg.Backend. An
// empty backend defaults to sqlite. Returns [ErrBackendNotRegistered] when no
// factory has been registered for that backend.
func (r *Registry) CreateStore(cfg StorageConfig) (store.ContentStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
	}

	r.mu.RLock()
	factory, ok := r.stores[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, backend)
	}
	return factory(cfg)
}
