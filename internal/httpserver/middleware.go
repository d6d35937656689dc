package httpserver

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dadmatch/dadmatch/internal/telemetry"
)

var skipLogPaths = map[string]bool{
	"/health": true,
}

// requestLogging attaches a correlation ID to every request and logs the
// outcome through the structured logger.
func requestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipLogPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = telemetry.NewCorrelationID()
		}
		c.Header("X-Correlation-ID", correlationID)

		ctx := telemetry.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		telemetry.LogFromContext(ctx).WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Request handled")
	}
}
