package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceContextKey holds the trace id in the gin context.
	TraceContextKey = "traceID"
	TraceHeader     = "X-Trace-Id"
)

type traceKey struct{}

func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. reuse the caller's id when present
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = strings.ReplaceAll(uuid.New().String(), "-", "")
		}

		// 2. gin context + request context
		c.Set(TraceContextKey, traceID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), traceKey{}, traceID))

		// 3. echo back
		c.Header(TraceHeader, traceID)

		c.Next()
	}
}

// TraceID returns the id stored by TraceMiddleware, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
