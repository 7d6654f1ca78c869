package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/PratikDhanave/pm-event-ingest/internal/handlers"
	"github.com/PratikDhanave/pm-event-ingest/internal/models"
)

// zstdMaxWindow caps decoder memory for a single request body.
const zstdMaxWindow = 8 << 20

// RequestLogger logs one line per request. Probe traffic is logged at debug.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if p := c.Request.URL.Path; p == "/healthz" || p == "/readyz" || p == "/metrics" {
			level = slog.LevelDebug
		}
		logger.Log(c.Request.Context(), level, "handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"remote_addr", c.ClientIP(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Instrument records request count and latency per matched route.
func Instrument(m *handlers.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
		m.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Decompress transparently decodes gzip and zstd request bodies.
// Body size limits downstream apply to the decoded stream.
func Decompress() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))

		switch enc {
		case "", "identity":
			c.Next()
			return

		case "gzip":
			zr, err := gzip.NewReader(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: handlers.CodeInvalidBody})
				return
			}
			defer zr.Close()
			c.Request.Body = io.NopCloser(zr)

		case "zstd":
			zr, err := zstd.NewReader(c.Request.Body,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderMaxWindow(zstdMaxWindow),
			)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: handlers.CodeInvalidBody})
				return
			}
			defer zr.Close()
			c.Request.Body = io.NopCloser(zr)

		default:
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, models.ErrorResponse{Error: handlers.CodeUnsupportedContentEncoding})
			return
		}

		c.Request.Header.Del("Content-Encoding")
		c.Request.ContentLength = -1
		c.Next()
	}
}
