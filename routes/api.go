package routes

import (
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/relaywire/messaging-relay/environments"
	"github.com/relaywire/messaging-relay/handlers"
	"github.com/relaywire/messaging-relay/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	cronHandler *handlers.CronHandler,
	messageHandler *handlers.MessageHandler,
	schedulerHandler *handlers.SchedulerHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// Webhook endpoints authenticate per channel via the shared secret,
	// so no middleware here.
	e.POST("/webhooks/:channelId", webhookHandler.Receive)
	e.GET("/webhooks/:channelId", webhookHandler.Probe)

	// Worker trigger routes behind the cron bearer secret
	cron := e.Group("/cron", middlewares.BearerAuth(cfg.Auth.CronSecret))

	cron.GET("/process-outbox", cronHandler.ProcessOutbox)
	cron.GET("/process-media", cronHandler.ProcessMedia)
	cron.POST("/channel-health", cronHandler.ChannelHealth)

	// API v1 base group
	v1 := e.Group("/api/v1")

	// Message routes with their own API key
	messages := v1.Group("/messages", middlewares.APIKeyAuth(cfg.Auth.MessagesAPIKey))

	messages.GET("", messageHandler.GetAllMessages)
	messages.POST("", messageHandler.CreateMessage)
	messages.GET("/stats", messageHandler.GetStats)
	messages.POST("/replay", messageHandler.ReplayFailedEntries)

	// Scheduler routes share the messages API key
	schedulerGroup := v1.Group("/scheduler", middlewares.APIKeyAuth(cfg.Auth.MessagesAPIKey))

	schedulerGroup.POST("/start", schedulerHandler.StartScheduler)
	schedulerGroup.POST("/stop", schedulerHandler.StopScheduler)
	schedulerGroup.GET("/status", schedulerHandler.GetSchedulerStatus)
}
