package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-monolith/mono"
	"github.com/redis/go-redis/v9"
)

// Module provides caching services as a mono module.
type Module struct {
	cache     *Cache
	client    *redis.Client
	redisAddr string
	prefix    string
	ttl       time.Duration
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)

// NewModule creates a new cache module. The 300s TTL matches the derived
// views' read-through timeout.
func NewModule(redisAddr string) *Module {
	return &Module{
		redisAddr: redisAddr,
		prefix:    "chatapp:",
		ttl:       300 * time.Second,
	}
}

// NewModuleWithConfig creates a new cache module with custom configuration.
func NewModuleWithConfig(redisAddr, prefix string, ttl time.Duration) *Module {
	return &Module{
		redisAddr: redisAddr,
		prefix:    prefix,
		ttl:       ttl,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "cache"
}

// ensureCache creates the Redis client and cache on first use. The client
// does not dial until a command runs, so this is safe before Init.
func (m *Module) ensureCache() {
	if m.cache != nil {
		return
	}
	m.client = redis.NewClient(&redis.Options{
		Addr:         m.redisAddr,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	m.cache = New(m.client, m.prefix, m.ttl)
}

// Init verifies the Redis connection.
func (m *Module) Init(_ mono.ServiceContainer) error {
	m.ensureCache()

	ctx := context.Background()
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[cache] Connected to Redis at %s (prefix: %s, TTL: %s)", m.redisAddr, m.prefix, m.ttl)
	return nil
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	log.Println("[cache] Module started")
	return nil
}

// Stop stops the module and closes the Redis connection.
func (m *Module) Stop(_ context.Context) error {
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			return fmt.Errorf("failed to close Redis connection: %w", err)
		}
	}
	log.Println("[cache] Module stopped")
	return nil
}

// GetCache returns the cache instance, creating it if needed.
func (m *Module) GetCache() *Cache {
	m.ensureCache()
	return m.cache
}

// HealthCheck verifies the Redis connection is healthy.
func (m *Module) HealthCheck(ctx context.Context) error {
	if m.cache == nil {
		return fmt.Errorf("cache not initialized")
	}
	return m.cache.Ping(ctx)
}
