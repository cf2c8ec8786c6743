package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/relaywire/messaging-relay/environments"
	"github.com/relaywire/messaging-relay/handlers"
	"github.com/relaywire/messaging-relay/internal/repository"
	"github.com/relaywire/messaging-relay/internal/scheduler"
	"github.com/relaywire/messaging-relay/internal/service"
	"github.com/relaywire/messaging-relay/pkg/botapi"
	"github.com/relaywire/messaging-relay/pkg/database"
	"github.com/relaywire/messaging-relay/pkg/gateway"
	"github.com/relaywire/messaging-relay/pkg/logger"
	"github.com/relaywire/messaging-relay/pkg/redis"
	"github.com/relaywire/messaging-relay/pkg/secrets"
	"github.com/relaywire/messaging-relay/pkg/storage"
	"github.com/relaywire/messaging-relay/pkg/validator"
	"github.com/relaywire/messaging-relay/routes"

	_ "github.com/relaywire/messaging-relay/docs" // swagger docs
)

// @title Messaging Relay API
// @version 1.0
// @description Multi-channel messaging relay: outbox dispatch, webhook ingestion, media resolution, and bot routing

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	logger.Init()

	// Load config
	cfg := environments.Load()

	// Hard-fail if required secrets are missing
	if cfg.Auth.MessagesAPIKey == "" {
		logger.Fatalf("MESSAGES_API_KEY is required but not set")
	}
	if cfg.Auth.CronSecret == "" {
		logger.Fatalf("CRON_SECRET is required but not set")
	}
	if cfg.Crypto.Key == "" {
		logger.Fatalf("TOKEN_ENCRYPTION_KEY is required but not set")
	}

	logger.Infof("Starting messaging relay...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if os.Getenv("SEED_DATA") == "true" {
		if err := database.SeedTestData(db); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Init redis for bot reply drafts
	var redisClient *redis.Client
	redisClient, err = redis.NewRedisClient(cfg.Redis, cfg.Bot.DraftTTL)
	if err != nil {
		logger.Warnf("Redis not available, reply drafts disabled: %v", err)
		redisClient = nil
	}

	// Token cipher for channel credentials
	cipher, err := secrets.NewAESCipher(cfg.Crypto.Key)
	if err != nil {
		logger.Fatalf("Failed to initialize token cipher: %v", err)
	}

	// Outbound clients
	gatewayClient := gateway.NewClient(cfg.Gateway)
	storageClient := storage.NewClient(cfg.Storage)
	botClient := botapi.NewClient(cfg.Bot.CallTimeout)

	// Repositories
	channelRepo := repository.NewChannelRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	mediaRepo := repository.NewMediaRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)
	botRepo := repository.NewBotRepository(db)

	// Services
	outboxService := service.NewOutboxService(outboxRepo, channelRepo, messageRepo, gatewayClient, cipher)
	mediaService := service.NewMediaService(mediaRepo, messageRepo, channelRepo, gatewayClient, storageClient, cipher)
	healthService := service.NewHealthService(channelRepo, gatewayClient, outboxRepo, cipher)
	messageService := service.NewMessageService(messageRepo, outboxRepo, chatRepo, cfg.Worker.DefaultAttempts)

	var draftStore service.DraftStore
	if redisClient != nil {
		draftStore = redisClient
	}
	botService := service.NewBotService(
		botRepo,
		chatRepo,
		draftStore,
		botClient,
		outboxRepo,
		messageRepo,
		cipher,
		cfg.Bot.CallTimeout,
		cfg.Bot.MarkerTTL,
		cfg.Worker.DefaultAttempts,
	)

	webhookService := service.NewWebhookService(
		channelRepo,
		eventRepo,
		chatRepo,
		messageRepo,
		mediaRepo,
		botService,
		cfg.Worker.DefaultAttempts,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize scheduler
	sched := scheduler.NewScheduler(outboxService, mediaService, healthService, cfg.Worker)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisClient)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	cronHandler := handlers.NewCronHandler(outboxService, mediaService, healthService, cfg.Worker)
	messageHandler := handlers.NewMessageHandler(messageService)
	schedulerHandler := handlers.NewSchedulerHandler(sched, ctx)

	// Auto-start scheduler
	if os.Getenv("AUTO_START_SCHEDULER") != "false" {
		logger.Infof("Auto-starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"x-relay-auth-key",
			handlers.SecretHeader,
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, webhookHandler, cronHandler, messageHandler, schedulerHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Cancel context to signal all goroutines to stop
	cancel()

	// Stop scheduler first (with timeout)
	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			} else {
				logger.Infof("Scheduler stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}
