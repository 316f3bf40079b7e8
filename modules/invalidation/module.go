package invalidation

import (
	"context"
	"log"

	"github.com/go-monolith/mono"
)

// Module exposes the cache invalidation coordinator as a mono module.
type Module struct {
	coordinator *Coordinator
	deleter     KeyDeleter
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)

// NewModule creates a new invalidation module.
func NewModule() *Module {
	return &Module{}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "invalidation"
}

// SetCache sets the cache the coordinator evicts from (called from main.go
// once the cache module has initialized).
func (m *Module) SetCache(deleter KeyDeleter) {
	m.deleter = deleter
	if m.coordinator != nil {
		m.coordinator.SetCache(deleter)
	}
}

// Init creates the coordinator with the default eviction table.
func (m *Module) Init(_ mono.ServiceContainer) error {
	if m.coordinator == nil {
		m.coordinator = NewCoordinator(m.deleter)
	}
	return nil
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	if m.deleter == nil {
		log.Println("[invalidation] Module started without cache; evictions disabled")
		return nil
	}
	log.Println("[invalidation] Module started")
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	log.Println("[invalidation] Module stopped")
	return nil
}

// Coordinator returns the coordinator for the store to dispatch into.
func (m *Module) Coordinator() *Coordinator {
	if m.coordinator == nil {
		m.coordinator = NewCoordinator(m.deleter)
	}
	return m.coordinator
}
