package middleware

import (
	"net/http"
	"strings"

	"catalogsync/internal/service"

	"github.com/gin-gonic/gin"
)

// TokenParser validates access tokens.
type TokenParser interface {
	Parse(token string) (*service.UserClaims, error)
}

// JWTMiddleware requires a bearer token. In dev mode the X-Dev-Pass header
// injects a mock operator instead.
func JWTMiddleware(parser TokenParser, devMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if devMode && c.GetHeader("X-Dev-Pass") == "true" {
			setOperator(c, &service.OperatorInfo{UserID: "9999", Name: "dev-admin", Role: "admin"})
			c.Next()
			return
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}

		claims, err := parser.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		setOperator(c, &service.OperatorInfo{
			UserID: claims.UserID,
			Name:   claims.Username,
			Role:   claims.Role,
		})
		c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for EventSource clients that cannot set headers.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

func setOperator(c *gin.Context, op *service.OperatorInfo) {
	c.Request = c.Request.WithContext(service.WithOperator(c.Request.Context(), op))
}
