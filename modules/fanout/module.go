package fanout

import (
	"context"
	"fmt"
	"log"

	"github.com/go-monolith/mono"

	"github.com/example/chat-fanout-demo/events"
)

// Module owns the room registry and the message broadcaster.
type Module struct {
	store       Store
	registry    *Registry
	broadcaster *Broadcaster
	eventBus    mono.EventBus
}

// NewModule creates the fanout module. The registry exists from
// construction so other modules can wire against it before startup.
func NewModule() *Module {
	return &Module{registry: NewRegistry()}
}

// SetStore injects the persistence backend. Must be called before Init.
func (m *Module) SetStore(store Store) {
	m.store = store
}

// Name returns the module name
func (m *Module) Name() string {
	return "fanout"
}

// Init sets up the registry and broadcaster
func (m *Module) Init(services mono.ServiceContainer) error {
	if m.store == nil {
		return fmt.Errorf("fanout module requires a store")
	}
	m.broadcaster = NewBroadcaster(m.store, m.registry)
	if m.eventBus != nil {
		m.broadcaster.SetEventBus(m.eventBus)
	}
	log.Printf("[fanout] Module initialized")
	return nil
}

// SetEventBus receives the application event bus
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
	if m.broadcaster != nil {
		m.broadcaster.SetEventBus(bus)
	}
}

// EmitEvents declares the events this module publishes
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
	}
}

// Start starts the module
func (m *Module) Start(ctx context.Context) error {
	log.Printf("[fanout] Module started")
	return nil
}

// Stop stops the module
func (m *Module) Stop(ctx context.Context) error {
	log.Printf("[fanout] Module stopped, %d sessions were connected", m.registry.SessionCount())
	return nil
}

// Registry returns the room registry.
func (m *Module) Registry() *Registry {
	return m.registry
}

// Broadcaster returns the message broadcaster.
func (m *Module) Broadcaster() *Broadcaster {
	return m.broadcaster
}

// Health reports the module health
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "fanout operational",
		Details: map[string]any{
			"rooms":    m.registry.Rooms(),
			"sessions": m.registry.SessionCount(),
		},
	}
}
