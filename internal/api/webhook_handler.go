package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"catalogsync/internal/dto/req"
	"catalogsync/internal/dto/resp"
	"catalogsync/internal/events"
	"catalogsync/internal/model"
	"catalogsync/internal/service"
	"catalogsync/internal/webhook"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WebhookProvider interface {
	Create(ctx context.Context, r req.CreateWebhookReq) (*model.WebhookSubscription, error)
	Get(ctx context.Context, id uint64) (*model.WebhookSubscription, error)
	Test(ctx context.Context, id uint64, r req.TestWebhookReq) (*webhook.Outcome, error)
	Logs(ctx context.Context, id uint64, page req.PageReq) (*resp.DeliveryLogPage, error)
}

type WebhookHandler struct {
	service WebhookProvider
}

func NewWebhookHandler(service WebhookProvider) *WebhookHandler {
	return &WebhookHandler{service: service}
}

func (h *WebhookHandler) Create(c *gin.Context) {
	var r req.CreateWebhookReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub, err := h.service.Create(c.Request.Context(), r)
	if err != nil {
		writeWebhookError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp.NewWebhookResp(sub))
}

func (h *WebhookHandler) Get(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	sub, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeWebhookError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.NewWebhookResp(sub))
}

// Test accepts an empty body, which sends the canned test payload.
func (h *WebhookHandler) Test(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	var r req.TestWebhookReq
	if err := c.ShouldBindJSON(&r); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}
	if r.Event != "" && !events.Valid(r.Event) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event " + strconv.Quote(r.Event)})
		return
	}
	out, err := h.service.Test(c.Request.Context(), id, r)
	if err != nil {
		writeWebhookError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *WebhookHandler) Logs(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	var page req.PageReq
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid paging params"})
		return
	}
	out, err := h.service.Logs(c.Request.Context(), id, page)
	if err != nil {
		writeWebhookError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func webhookID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return 0, false
	}
	return id, true
}

func writeWebhookError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrWebhookNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, webhook.ErrInvalidSubscription):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("webhook request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
