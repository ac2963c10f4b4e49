package middleware

import (
	"catalogsync/internal/service"
	"catalogsync/pkg/constraints"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const traceKey = "trace_id"

// TraceMiddleware adopts the caller's trace id or mints one, and carries it
// on the request context so that tasks and events inherit it.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(constraints.HeaderTraceID)
		if traceID == "" || len(traceID) > 64 {
			traceID = uuid.New().String()
		}
		c.Set(traceKey, traceID)
		c.Writer.Header().Set(constraints.HeaderTraceID, traceID)
		c.Request = c.Request.WithContext(service.WithTraceID(c.Request.Context(), traceID))
		c.Next()
	}
}
