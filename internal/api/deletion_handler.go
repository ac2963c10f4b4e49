package api

import (
	"context"
	"errors"
	"net/http"

	"catalogsync/internal/service"
	"catalogsync/internal/status"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DeletionProvider interface {
	Submit(ctx context.Context) (*v1.BulkDeleteAccepted, error)
	Status(ctx context.Context, taskID string) (v1.BulkDeleteStatus, error)
}

type DeletionHandler struct {
	service DeletionProvider
}

func NewDeletionHandler(service DeletionProvider) *DeletionHandler {
	return &DeletionHandler{service: service}
}

func (h *DeletionHandler) Submit(c *gin.Context) {
	accepted, err := h.service.Submit(c.Request.Context())
	if err != nil {
		logger.Error("bulk delete submit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit bulk delete"})
		return
	}
	c.JSON(http.StatusAccepted, accepted)
}

func (h *DeletionHandler) Status(c *gin.Context) {
	st, err := h.service.Status(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, st)
	case errors.Is(err, service.ErrDeletionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, status.ErrStatusUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Error("bulk delete status failed", zap.String("task_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
