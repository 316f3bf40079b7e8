package identity

import (
	"context"
	"log"
	"os"

	"github.com/go-monolith/mono"
)

// Module exposes bearer-token verification as a mono module.
type Module struct {
	verifier *Verifier
	resolver UserResolver
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)

// NewModule creates a new identity module. The signing secret is read from
// JWT_SECRET; the default is only suitable for local development.
func NewModule() *Module {
	return &Module{}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "identity"
}

// SetUserResolver sets the resolver used to reject tokens whose subject no
// longer exists. Optional.
func (m *Module) SetUserResolver(resolver UserResolver) {
	m.resolver = resolver
}

// Init builds the verifier from the environment.
func (m *Module) Init(_ mono.ServiceContainer) error {
	config := DefaultConfig()
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.SecretKey = secret
	}
	m.verifier = NewVerifier(config, m.resolver)
	return nil
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	log.Println("[identity] Module started")
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	log.Println("[identity] Module stopped")
	return nil
}

// Verifier returns the token verifier.
func (m *Module) Verifier() *Verifier {
	if m.verifier == nil {
		m.verifier = NewVerifier(DefaultConfig(), m.resolver)
	}
	return m.verifier
}
