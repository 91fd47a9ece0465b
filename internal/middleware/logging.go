package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/util"
	"go.uber.org/zap"
)

// RequestLogger emits one structured line per request. Health and metrics
// probes are skipped to keep the log readable.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			logger.WithIP(c.ClientIP()),
		}
		if id := c.GetString(util.CtxRequestID); id != "" {
			fields = append(fields, logger.WithRequestID(id))
		}
		if user, ok := util.UserFromContext(c); ok {
			fields = append(fields, logger.WithUserID(user.ID))
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			logger.Log.Warn("request", fields...)
		default:
			logger.Log.Info("request", fields...)
		}
	}
}
