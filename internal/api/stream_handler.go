package api

import (
	"context"
	"io"
	"net/http"

	"catalogsync/internal/service"
	"catalogsync/internal/status"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StatusProvider interface {
	Status(ctx context.Context, taskID string) (v1.ImportStatus, error)
}

type StreamHandler struct {
	status StatusProvider
	hub    *service.Hub
}

func NewStreamHandler(status StatusProvider, hub *service.Hub) *StreamHandler {
	return &StreamHandler{status: status, hub: hub}
}

// WatchImport streams status events for one import until it reaches a
// terminal state or the client goes away. The current status is sent first.
func (h *StreamHandler) WatchImport(c *gin.Context) {
	taskID := c.Param("id")

	client := h.hub.Subscribe(taskID, 32)
	if client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}
	defer h.hub.Unsubscribe(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	logger.Info("stream client connected",
		zap.String("task_id", taskID),
		zap.String("operator", service.GetOperator(c.Request.Context())),
		zap.String("ip", c.ClientIP()),
	)

	if st, err := h.status.Status(c.Request.Context(), taskID); err == nil {
		c.SSEvent("status", st)
		c.Writer.Flush()
		if st.Terminal() {
			return
		}
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return false
			}
			if msg.Type == service.MessagePing {
				c.SSEvent("ping", "pong")
				return true
			}
			st := status.FromRecord(taskID, msg.Record)
			c.SSEvent("status", st)
			return !st.Terminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}
