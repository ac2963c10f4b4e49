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

type ImportProvider interface {
	Submit(ctx context.Context, up service.Upload) (*v1.ImportAccepted, error)
	Status(ctx context.Context, taskID string) (v1.ImportStatus, error)
	Result(ctx context.Context, taskID string) (*v1.ImportResult, error)
	Cancel(ctx context.Context, taskID string) error
}

type ImportHandler struct {
	service  ImportProvider
	maxBytes int64
}

func NewImportHandler(service ImportProvider, maxBytes int64) *ImportHandler {
	return &ImportHandler{service: service, maxBytes: maxBytes}
}

// multipartSlack covers multipart framing around the file part.
const multipartSlack = 1 << 20

func (h *ImportHandler) Upload(c *gin.Context) {
	if h.maxBytes > 0 {
		if c.Request.ContentLength > h.maxBytes+multipartSlack {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": service.ErrUploadTooLarge.Error()})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartSlack)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": service.ErrUploadTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer f.Close()

	accepted, err := h.service.Submit(c.Request.Context(), service.Upload{
		Filename: fh.Filename,
		Size:     fh.Size,
		Body:     f,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFile), errors.Is(err, service.ErrEmptyUpload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrUploadTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		default:
			logger.Error("import submit failed", zap.String("filename", fh.Filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept import"})
		}
		return
	}
	c.JSON(http.StatusAccepted, accepted)
}

func (h *ImportHandler) Status(c *gin.Context) {
	st, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, status.ErrStatusUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *ImportHandler) Result(c *gin.Context) {
	res, err := h.service.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeImportError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ImportHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		writeImportError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "message": "cancellation requested"})
}

func writeImportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFinished), errors.Is(err, service.ErrAlreadyFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("import request failed", zap.String("task_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
