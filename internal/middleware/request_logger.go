// Package middleware holds the gin middleware shared by the HTTP API.
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// maxLoggedBody caps how much of a request body is written to the debug log.
const maxLoggedBody = 4096

// RequestLogger logs every request and response at debug level. The
// websocket endpoint and health checks are skipped.
func RequestLogger(logger hclog.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/api/health" || strings.HasSuffix(path, "/ws") {
			c.Next()
			return
		}

		start := time.Now()

		var bodyBytes []byte
		if log.IsDebug() && c.Request.Body != nil {
			bodyBytes, _ = io.ReadAll(c.Request.Body)
			// restore the body for the handler
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			if len(bodyBytes) > maxLoggedBody {
				bodyBytes = bodyBytes[:maxLoggedBody]
			}
		}

		log.Debug("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"query", c.Request.URL.RawQuery,
			"body", string(bodyBytes),
			"ip", c.ClientIP(),
		)

		c.Next()

		log.Debug("HTTP Response",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"size", c.Writer.Size(),
		)
	}
}

// ErrorLogger logs errors attached to the gin context by handlers.
func ErrorLogger(logger hclog.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			log.Error("Request error",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", err.Error(),
				"type", err.Type,
			)
		}
	}
}

// CORS allows the API to be called from a browser dashboard on another
// origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
