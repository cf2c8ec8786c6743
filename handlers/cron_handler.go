package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/relaywire/messaging-relay/environments"
	"github.com/relaywire/messaging-relay/internal/service"
	"github.com/relaywire/messaging-relay/pkg/response"
)

// CronHandler exposes the worker passes as HTTP endpoints so an external
// scheduler (or an operator) can trigger them on top of the built-in cron.
type CronHandler struct {
	outbox *service.OutboxService
	media  *service.MediaService
	health *service.HealthService
	cfg    environments.WorkerConfig
}

func NewCronHandler(
	outbox *service.OutboxService,
	media *service.MediaService,
	health *service.HealthService,
	cfg environments.WorkerConfig,
) *CronHandler {
	return &CronHandler{
		outbox: outbox,
		media:  media,
		health: health,
		cfg:    cfg,
	}
}

// ProcessOutbox godoc
// @Summary Run one outbox dispatch pass
// @Description Claims due outbox entries and attempts delivery through the gateway
// @Tags cron
// @Produce json
// @Param Authorization header string true "Bearer cron secret"
// @Success 200 {object} response.SuccessResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /cron/process-outbox [get]
func (h *CronHandler) ProcessOutbox(c echo.Context) error {
	result, err := h.outbox.RunBatch(c.Request().Context(), h.cfg.OutboxBatchSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, result)
}

// ProcessMedia godoc
// @Summary Run one media resolution pass
// @Description Claims due media fetch jobs and resolves their content URLs
// @Tags cron
// @Produce json
// @Param Authorization header string true "Bearer cron secret"
// @Success 200 {object} response.SuccessResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /cron/process-media [get]
func (h *CronHandler) ProcessMedia(c echo.Context) error {
	result, err := h.media.RunBatch(c.Request().Context(), h.cfg.MediaBatchSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, result)
}

// ChannelHealth godoc
// @Summary Run one channel health sweep
// @Description Probes every checkable channel and reconciles its health state
// @Tags cron
// @Produce json
// @Param Authorization header string true "Bearer cron secret"
// @Success 200 {object} response.SuccessResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /cron/channel-health [post]
func (h *CronHandler) ChannelHealth(c echo.Context) error {
	report, err := h.health.RunCheck(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, report)
}
