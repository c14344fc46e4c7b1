package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mockpit/internal/cache"
	"mockpit/internal/config"
	"mockpit/internal/handlers"
	"mockpit/internal/logging"
	"mockpit/internal/middleware"
	"mockpit/internal/mockserver"
	"mockpit/internal/models"
	"mockpit/internal/preflight"
	"mockpit/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting mockpit server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, MockServer: %s)", cfg.Port, cfg.MockServerURL)

	// Demo dataset used only when the very first load cannot reach the remote
	demoMappings, err := config.LoadDemoMappings(cfg.DemoDataPath)
	if err != nil {
		log.Printf("⚠️  No demo dataset available (%s): %v", cfg.DemoDataPath, err)
	} else {
		log.Printf("📦 Demo dataset loaded (%d mappings)", len(demoMappings))
	}

	// Admin client for the remote mock server
	client := mockserver.NewClient(cfg.MockServerURL, mockserver.Options{
		Timeout:        cfg.RequestTimeout,
		MaxRetries:     cfg.RetryAttempts,
		RequestsPerSec: cfg.RequestsPerSec,
	})

	// Run preflight checks; only packaging errors block startup
	checker := preflight.NewChecker(client, cfg.SettingsPath, cfg.DemoDataPath)
	if results := checker.RunAll(); preflight.HasFailures(results) {
		log.Fatal("❌ Pre-flight checks failed - fix the issues above and restart")
	}

	// Dashboard settings (hot-reloaded from disk)
	settingsService := services.NewSettingsService(cfg.SettingsPath)
	if err := settingsService.Load(); err != nil {
		log.Printf("⚠️  Failed to load settings: %v", err)
	}

	// Initialize services
	connManager := services.NewConnectionManager()

	engine, err := cache.NewEngine(client, cache.Options{
		OpTTL:              cfg.OpTTL,
		GuardTTL:           cfg.GuardTTL,
		SweepInterval:      cfg.SweepInterval,
		ValidationInterval: cfg.ValidationInterval,
		ValidationCron:     settingsService.Get().ValidationCron,
		StaleThreshold:     cfg.StaleThreshold,
		MaxPendingOps:      cfg.MaxPendingOps,
		SettleDelay:        cfg.SettleDelay,
		RebuildDebounce:    cfg.RebuildDebounce,
		UseSnapshot:        cfg.UseSnapshot,
		DemoData:           demoMappings,
		Notifier:           connManager,
	})
	if err != nil {
		log.Fatalf("❌ Failed to create sync engine: %v", err)
	}

	// Initialize Prometheus metrics (gauges read live engine status)
	services.InitMetrics(connManager, engine)
	engine.SetRecorder(services.GetMetrics())
	log.Println("✅ Prometheus metrics initialized")

	if err := engine.Start(context.Background()); err != nil {
		log.Fatalf("❌ Failed to start sync engine: %v", err)
	}

	// Re-apply the validation schedule whenever the settings file changes
	settingsService.OnChange(func(s models.DashboardSettings) {
		if err := engine.UpdateValidationSchedule(s.ValidationCron); err != nil {
			log.Printf("⚠️  Failed to update validation schedule: %v", err)
		}
	})
	go startSettingsFileWatcher(settingsService)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "mockpit v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    10 * 1024 * 1024, // 10MB for bulk mapping imports
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("mockpit")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		// Default to localhost for development
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins.
	allowCredentials := allowedOrigins != "*"

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Admin-Key",
		AllowCredentials: allowCredentials,
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(connManager, engine)
	mappingsHandler := handlers.NewMappingsHandler(engine)
	wsHandler := handlers.NewWebSocketHandler(connManager, engine)

	adminGuard := middleware.AdminKeyMiddleware(cfg.AdminKey)
	if cfg.AdminKey == "" {
		log.Println("⚠️  ADMIN_KEY not set - mutating routes are unprotected")
	}

	// Per-IP rate limits: a global ceiling plus tighter caps on write paths
	rlConfig := middleware.LoadRateLimitConfig()
	mutationLimiter := middleware.MutationRateLimiter(rlConfig)
	importLimiter := middleware.ImportRateLimiter(rlConfig)

	// Routes

	// Health check (public)
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api", middleware.GlobalAPIRateLimiter(rlConfig))
	{
		api.Get("/health", healthHandler.Handle)
		api.Get("/cache/status", mappingsHandler.CacheStatus)

		// Specific mapping routes before the parameterized ones
		api.Post("/mappings/import", adminGuard, importLimiter, mappingsHandler.Import)
		api.Post("/mappings/refresh", mappingsHandler.Refresh)
		api.Post("/mappings/persist", adminGuard, mutationLimiter, mappingsHandler.Persist)

		api.Get("/mappings", mappingsHandler.List)
		api.Post("/mappings", adminGuard, mutationLimiter, mappingsHandler.Create)
		api.Delete("/mappings", adminGuard, mutationLimiter, mappingsHandler.Reset)
		api.Get("/mappings/:id", mappingsHandler.Get)
		api.Put("/mappings/:id", adminGuard, mutationLimiter, mappingsHandler.Update)
		api.Delete("/mappings/:id", adminGuard, mutationLimiter, mappingsHandler.Delete)
	}

	// WebSocket change feed
	app.Use("/ws", middleware.WebSocketRateLimiter(rlConfig), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			c.Locals("client_ip", c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsConfig := websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}
	app.Get("/ws/changes", websocket.New(wsHandler.Handle, wsConfig))

	// Start server
	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 Change feed: ws://localhost:%s/ws/changes", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/api/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop background sync and flush the final snapshot
		if err := engine.Stop(); err != nil {
			log.Printf("⚠️ Error stopping sync engine: %v", err)
		}

		// Shutdown Fiber
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// startSettingsFileWatcher watches the settings file for changes and reloads it
func startSettingsFileWatcher(settingsService *services.SettingsService) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}

	filePath := settingsService.Path()

	// Get absolute path for the file
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		watcher.Close()
		return
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// Only react to changes to our specific file
			if filepath.Base(event.Name) != filename {
				continue
			}

			// React to write and create events
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				// Debounce: cancel previous timer and set a new one
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(debounceDuration, func() {
					log.Printf("🔄 Detected changes in %s, reloading settings...", filePath)

					if err := settingsService.Load(); err != nil {
						log.Printf("❌ Failed to reload settings after file change: %v", err)
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
