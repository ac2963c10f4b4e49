package middleware

import (
	"fmt"
	"net/http"

	"catalogsync/internal/repository"
	"catalogsync/internal/service"
	"catalogsync/pkg/constraints"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIKeyMiddleware admits machine clients presenting X-CatalogSync-Key.
func APIKeyMiddleware(repo repository.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(constraints.HeaderAPIKey)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		if !admitAPIKey(c, repo, apiKey) {
			return
		}
		c.Next()
	}
}

// ClientAuth accepts either an API key or a bearer token, the key taking
// precedence when both are present.
func ClientAuth(repo repository.APIKeyRepository, parser TokenParser, devMode bool) gin.HandlerFunc {
	jwtAuth := JWTMiddleware(parser, devMode)
	return func(c *gin.Context) {
		apiKey := c.GetHeader(constraints.HeaderAPIKey)
		if apiKey == "" {
			jwtAuth(c)
			return
		}
		if !admitAPIKey(c, repo, apiKey) {
			return
		}
		c.Next()
	}
}

func admitAPIKey(c *gin.Context, repo repository.APIKeyRepository, apiKey string) bool {
	client, err := repo.ValidateAPIKey(c.Request.Context(), apiKey)
	if err != nil {
		logger.Error("api key lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable"})
		return false
	}
	if client == nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	setOperator(c, &service.OperatorInfo{
		UserID: fmt.Sprintf("client-%d", client.ID),
		Name:   client.AppID,
		Role:   service.RoleClient,
	})
	return true
}
