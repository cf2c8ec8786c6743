package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaywire/messaging-relay/internal/service"
	"github.com/relaywire/messaging-relay/pkg/response"
)

// SecretHeader is the alternative to the ?secret= query parameter.
const SecretHeader = "X-Webhook-Secret"

type WebhookHandler struct {
	service *service.WebhookService
}

func NewWebhookHandler(svc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: svc}
}

// Receive godoc
// @Summary Receive a provider webhook event
// @Description Authenticates, logs, and asynchronously processes one inbound provider event
// @Tags webhooks
// @Accept json
// @Produce json
// @Param channelId path string true "Channel ID"
// @Param secret query string false "Webhook shared secret (or X-Webhook-Secret header)"
// @Success 200 {object} service.HandleResult
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /webhooks/{channelId} [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	channelID := c.Param("channelId")
	secret := webhookSecret(c)

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return response.BadRequestWithMessage(c, "failed to read request body")
	}

	result, err := h.service.Handle(c.Request().Context(), channelID, secret, body)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			return response.Unauthorized(c)
		case errors.Is(err, service.ErrInvalidPayload):
			return response.BadRequestWithMessage(c, "invalid webhook payload")
		default:
			return response.InternalServerError(c, err)
		}
	}

	// The provider expects this exact shape, not our success envelope.
	return c.JSON(http.StatusOK, result)
}

// Probe godoc
// @Summary Webhook health probe
// @Description Returns channel identity if the secret is valid, for provider-side configuration checks
// @Tags webhooks
// @Produce json
// @Param channelId path string true "Channel ID"
// @Param secret query string false "Webhook shared secret (or X-Webhook-Secret header)"
// @Success 200 {object} map[string]any
// @Failure 401 {object} response.ErrorResponse
// @Router /webhooks/{channelId} [get]
func (h *WebhookHandler) Probe(c echo.Context) error {
	channelID := c.Param("channelId")
	secret := webhookSecret(c)

	channel, err := h.service.Authenticate(c.Request().Context(), channelID, secret)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			return response.Unauthorized(c)
		}
		return response.InternalServerError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"channel_id": channel.ID,
		"name":       channel.Name,
		"status":     channel.Status,
	})
}

func webhookSecret(c echo.Context) string {
	if secret := c.QueryParam("secret"); secret != "" {
		return secret
	}
	return c.Request().Header.Get(SecretHeader)
}
