package telemetry

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// GinLogger logs every request once it is served. Server errors log at error level.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		lvl := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case status >= 500:
			lvl = slog.LevelError
		case status >= 400:
			lvl = slog.LevelWarn
		}

		slog.Log(c.Request.Context(), lvl, "http: served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
