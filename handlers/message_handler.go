package handlers

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/internal/service"
	"github.com/relaywire/messaging-relay/pkg/response"
	"github.com/relaywire/messaging-relay/pkg/validator"
)

type MessageHandler struct {
	service *service.MessageService
}

func NewMessageHandler(service *service.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

type CreateMessageRequest struct {
	ChatID   int64  `json:"chatId" validate:"required"`
	Type     string `json:"type" validate:"omitempty,oneof=text image video audio document"`
	Body     string `json:"body" validate:"required_without=MediaURL,max=4096"`
	MediaURL string `json:"mediaUrl" validate:"omitempty,url"`
	Caption  string `json:"caption" validate:"max=1024"`
	Filename string `json:"filename" validate:"max=255"`
	Priority int    `json:"priority" validate:"gte=0,lte=9"`
}

// CreateMessage godoc
// @Summary Queue an outbound message
// @Description Creates a pending outbound message and queues it for delivery by the dispatcher
// @Tags messages
// @Accept json
// @Produce json
// @Param x-relay-auth-key header string true "API key for messages"
// @Param message body CreateMessageRequest true "Message to queue"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages [post]
func (h *MessageHandler) CreateMessage(c echo.Context) error {
	var req CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	msgType := domain.TypeText
	if req.Type != "" {
		msgType = domain.MessageType(req.Type)
	}

	payload := domain.SendPayload{
		Body:     req.Body,
		MediaURL: req.MediaURL,
		Caption:  req.Caption,
		Filename: req.Filename,
	}

	message, err := h.service.EnqueueMessage(c.Request().Context(), req.ChatID, msgType, payload, req.Priority)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Message queued successfully", message)
}

// GetAllMessages godoc
// @Summary Get all messages
// @Description Retrieves a paginated list of all messages with optional status filter
// @Tags messages
// @Accept json
// @Produce json
// @Param x-relay-auth-key header string true "API key for messages"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param status query string false "Filter by status (pending, sent, failed)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages [get]
func (h *MessageHandler) GetAllMessages(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	statusStr := c.QueryParam("status")

	// Convert status string to pointer (optional filter).
	var status *domain.MessageStatus
	if statusStr != "" {
		parsedStatus := domain.MessageStatus(statusStr)
		status = &parsedStatus
	}

	messages, totalCount, err := h.service.GetAllMessages(c.Request().Context(), status, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, messages, page, pageSize, totalCount)
}

// GetStats godoc
// @Summary Get message statistics
// @Description Returns count of messages by status
// @Tags messages
// @Accept json
// @Produce json
// @Param x-relay-auth-key header string true "API key for messages"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/stats [get]
func (h *MessageHandler) GetStats(c echo.Context) error {
	pending, sent, failed, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"pending": pending,
		"sent":    sent,
		"failed":  failed,
		"total":   pending + sent + failed,
	})
}

// ReplayFailedEntries godoc
// @Summary Replay all failed outbox entries
// @Description Resets failed outbox entries to queued so the dispatcher retries them
// @Tags messages
// @Accept json
// @Produce json
// @Param x-relay-auth-key header string true "API key for messages"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/replay [post]
func (h *MessageHandler) ReplayFailedEntries(c echo.Context) error {
	count, err := h.service.ReplayFailedEntries(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"replayed": count,
	})
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	// Page
	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	// Page size
	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
