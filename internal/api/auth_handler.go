package api

import (
	"errors"
	"net/http"

	"catalogsync/internal/dto/req"
	"catalogsync/internal/dto/resp"
	"catalogsync/internal/service"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Token exchanges an API key for a token pair.
func (h *AuthHandler) Token(c *gin.Context) {
	var body req.TokenReq
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := h.svc.Token(c.Request.Context(), body.APIKey)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, tokens)
}

// Refresh rotates the token pair. A refresh token that was already
// rotated or logged out is rejected.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var body req.RefreshReq
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := h.svc.Refresh(c.Request.Context(), body.RefreshToken)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, tokens)
	case errors.Is(err, service.ErrTokenInvalid), errors.Is(err, service.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		logger.Error("token refresh failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
	}
}

func (h *AuthHandler) Logout(c *gin.Context) {
	op := service.GetOperatorInfo(c.Request.Context())
	if op == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if err := h.svc.Logout(c.Request.Context(), op.UserID); err != nil {
		logger.Warn("logout could not drop session", zap.String("user_id", op.UserID), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

// Me describes the authenticated caller.
func (h *AuthHandler) Me(c *gin.Context) {
	op := service.GetOperatorInfo(c.Request.Context())
	if op == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, resp.ClientInfo{ID: op.UserID, AppID: op.Name, Role: op.Role})
}
