package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/chat-fanout-demo/domain/chat"
	cachemod "github.com/example/chat-fanout-demo/modules/cache"
	"github.com/example/chat-fanout-demo/modules/fanout"
	"github.com/example/chat-fanout-demo/modules/identity"
	"github.com/example/chat-fanout-demo/modules/invalidation"
	"github.com/example/chat-fanout-demo/modules/notifications"
	"github.com/example/chat-fanout-demo/modules/presence"
	"github.com/example/chat-fanout-demo/modules/wsserver"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Chat Fanout Demo - Fiber + EventBus Pubsub ===")

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	dbPath := envOr("DB_PATH", "chatapp.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	// Create modules
	cacheModule := cachemod.NewModule(envOr("REDIS_ADDR", "localhost:6379"))
	invalidationModule := invalidation.NewModule()
	identityModule := identity.NewModule()
	fanoutModule := fanout.NewModule()
	presenceModule := presence.NewModule()
	notificationsModule := notifications.NewModule()

	// The repository dispatches every mutation into the invalidation
	// coordinator, which evicts the derived cache views synchronously.
	repo := chat.NewRepository(db, invalidationModule.Coordinator())
	if err := repo.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Manual wiring, same pattern as the hub injection: these handles are
	// not exposed via ServiceContainer.
	identityModule.SetUserResolver(repo)
	fanoutModule.SetStore(repo)
	presenceModule.SetStore(repo)
	presenceModule.SetCache(cacheModule.GetCache())
	notificationsModule.SetStore(repo)
	notificationsModule.SetRegistry(fanoutModule.Registry())
	invalidationModule.SetCache(cacheModule.GetCache())

	addr := ":" + envOr("PORT", "3000")
	wsModule := wsserver.NewModule(addr, identityModule, fanoutModule, presenceModule, app.Logger())

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	app.Register(cacheModule)         // Redis cache
	app.Register(invalidationModule)  // mutation -> eviction fanout
	app.Register(identityModule)      // bearer-token verification
	app.Register(fanoutModule)        // room registry + broadcaster (event emitter)
	app.Register(presenceModule)      // touch workers + status reads
	app.Register(notificationsModule) // MessageSent consumer
	app.Register(wsModule)            // Fiber HTTP/WebSocket server

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printStartupInfo() {
	port := envOr("PORT", "3000")
	natsURL := envOr("NATS_URL", "nats://localhost:4222")

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Event Bus: NATS JetStream (internal pubsub)")
	log.Printf("  - NATS URL: %s", natsURL)
	log.Println("  - Store: SQLite via GORM, Cache: Redis")
	log.Println("")
	log.Println("Event-Driven Fanout:")
	log.Println("  - MessageSent events -> notifications module -> per-user rooms")
	log.Println("  - Store mutations -> invalidation coordinator -> Redis evictions")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                  - Health check")
	log.Println("  GET    /api/v1/presence/:id     - Presence status for a user")
	log.Println("")
	log.Printf("WebSocket Endpoints (ws://localhost:%s):", port)
	log.Println("  /ws/chat/:id          - Group chat room")
	log.Println("  /ws/private/:id       - Private chat room")
	log.Println("  /ws/notifications     - Per-user notification stream")
	log.Println("  Authenticate with: Authorization: Bearer <token>")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
