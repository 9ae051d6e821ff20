package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"DocChat/server/internal/middleware"
	"DocChat/server/internal/service"

	"github.com/gin-gonic/gin"
)

// classify maps a service error to a status and the message a client may see.
// Causes are never forwarded except for our own validation text.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "An upstream service timed out, please retry"
	case errors.Is(err, service.ErrInvalidUpload), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrEmptyDocument):
		return http.StatusBadRequest, "The PDF contains no extractable text"
	case errors.Is(err, service.ErrAuthentication):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "File not found"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Email is already registered"
	case errors.Is(err, service.ErrEmbedding):
		return http.StatusInternalServerError, "Failed to process the document"
	case errors.Is(err, service.ErrDeletion):
		return http.StatusInternalServerError, "Failed to delete the file"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeError(c *gin.Context, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("❌ request failed", "path", c.FullPath(), "trace_id", c.GetString(middleware.TraceContextKey), "err", err)
	}
	c.JSON(status, gin.H{"message": msg})
}
