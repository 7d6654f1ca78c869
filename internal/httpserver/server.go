package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PratikDhanave/pm-event-ingest/internal/config"
	"github.com/PratikDhanave/pm-event-ingest/internal/handlers"
)

const readinessTimeout = time.Second

// Store is the storage gateway as seen by the HTTP layer.
type Store interface {
	handlers.EventStore
	Ping(ctx context.Context) error
}

// Deps are the collaborators NewRouter wires together.
type Deps struct {
	Config   *config.Config
	Store    Store
	Logger   *slog.Logger
	Metrics  *handlers.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter wires probes, metrics and the ingestion API.
// Probes: /healthz, /readyz
// Ingestion: POST /v1/events
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(d.Logger))
	r.Use(Instrument(d.Metrics))

	// Liveness: confirms the process is running.
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			d.Logger.Warn("readiness check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	handlers.RegisterMetricRoutes(r, d.Gatherer)

	api := r.Group("/")
	api.Use(Decompress())

	handlers.EventRoutes{
		Store:        d.Store,
		Logger:       d.Logger,
		Metrics:      d.Metrics,
		MaxBodyBytes: d.Config.MaxBodyBytes,
	}.Register(api)

	return r
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func NewServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
