package presence

import (
	"context"
	"fmt"
	"log"

	"github.com/go-monolith/mono"

	"github.com/example/chat-fanout-demo/events"
)

// Module owns the presence tracker.
type Module struct {
	store    Store
	cache    ProfileCache
	eventBus mono.EventBus
	tracker  *Tracker
}

// NewModule creates the presence module.
func NewModule() *Module {
	return &Module{}
}

// SetStore injects the persistence backend. Must be called before Init.
func (m *Module) SetStore(store Store) {
	m.store = store
}

// SetCache injects the profile cache. Optional: without it every status
// query hits the store.
func (m *Module) SetCache(profileCache ProfileCache) {
	m.cache = profileCache
}

// Name returns the module name
func (m *Module) Name() string {
	return "presence"
}

// Init sets up the tracker
func (m *Module) Init(services mono.ServiceContainer) error {
	if m.store == nil {
		return fmt.Errorf("presence module requires a store")
	}
	m.tracker = NewTracker(m.store, m.cache)
	if m.eventBus != nil {
		m.tracker.SetEventBus(m.eventBus)
	}
	log.Printf("[presence] Module initialized")
	return nil
}

// SetEventBus receives the application event bus
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
	if m.tracker != nil {
		m.tracker.SetEventBus(bus)
	}
}

// EmitEvents declares the events this module publishes
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.PresenceTouchedV1.ToBase(),
	}
}

// Start launches the touch workers
func (m *Module) Start(ctx context.Context) error {
	m.tracker.Start()
	log.Printf("[presence] Module started with %d workers", m.tracker.workers)
	return nil
}

// Stop drains the touch queue and stops the workers
func (m *Module) Stop(ctx context.Context) error {
	m.tracker.Stop()
	if dropped := m.tracker.Dropped(); dropped > 0 {
		log.Printf("[presence] Module stopped, %d touches were dropped", dropped)
	} else {
		log.Printf("[presence] Module stopped")
	}
	return nil
}

// Tracker returns the presence tracker.
func (m *Module) Tracker() *Tracker {
	return m.tracker
}

// Health reports the module health
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "presence operational",
		Details: map[string]any{
			"queueDepth":     m.tracker.QueueDepth(),
			"droppedTouches": m.tracker.Dropped(),
		},
	}
}
