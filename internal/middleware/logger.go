package middleware

import (
	"net/http"
	"time"

	"catalogsync/internal/service"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Probes and scrapes are logged at debug level unless they fail.
var quietPaths = map[string]bool{"/health": true, "/metrics": true}

const requestIDKey = "request_id"

func GinZapLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		cost := time.Since(start)
		status := c.Writer.Status()

		log := logger.Info
		if quietPaths[path] && status < http.StatusBadRequest {
			log = logger.Debug
		}
		log("http_request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Duration("latency", cost),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("trace_id", c.GetString(traceKey)),
			zap.String("operator", service.GetOperator(c.Request.Context())),
		)
		if len(c.Errors) > 0 {
			logger.Warn("http_request_errors", zap.String("path", path), zap.String("errors", c.Errors.String()))
		}
	}
}

func GinZapRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// RequestID keeps a caller-supplied X-Request-ID and generates one otherwise.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}
