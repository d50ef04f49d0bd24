package handlers

import (
	"time"

	"curve-watch/shared/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
)

// RequestLogger tags every request with an ID (reusing a valid incoming one) and logs its outcome.
func RequestLogger(appLogger *logger.Logger) gin.HandlerFunc {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		fields := []interface{}{
			zap.String("requestID", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case c.Writer.Status() >= 500:
			appLogger.Error("HTTP request failed", fields...)
		case c.Writer.Status() >= 400:
			appLogger.Warn("HTTP request rejected", fields...)
		default:
			appLogger.Debug("HTTP request served", fields...)
		}
	}
}

func requestIDField(c *gin.Context) zap.Field {
	return zap.String("requestID", c.GetString(requestIDKey))
}
