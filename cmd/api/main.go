package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PratikDhanave/pm-event-ingest/internal/config"
	"github.com/PratikDhanave/pm-event-ingest/internal/handlers"
	"github.com/PratikDhanave/pm-event-ingest/internal/httpserver"
	"github.com/PratikDhanave/pm-event-ingest/internal/logger"
	"github.com/PratikDhanave/pm-event-ingest/internal/store"
)

// main boots the service: config → logger → DB → HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Refuse to serve until Postgres answers.
	db, err := store.NewPostgresStore(ctx, store.Options{
		URL:            cfg.DB.URL(),
		ConnectTimeout: cfg.DB.ConnectTimeout,
		QueryTimeout:   cfg.DB.QueryTimeout,
		MaxConns:       int32(cfg.DB.MaxConns),
		MinConns:       int32(cfg.DB.MinConns),
	})
	if err != nil {
		log.Error("failed to connect to postgres", "error", err, "host", cfg.DB.Host, "port", cfg.DB.Port)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to postgres", "host", cfg.DB.Host, "database", cfg.DB.Database)

	router := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Store:    db,
		Logger:   log,
		Metrics:  handlers.NewMetrics(prometheus.DefaultRegisterer),
		Gatherer: prometheus.DefaultGatherer,
	})
	srv := httpserver.NewServer(cfg, router)

	if err := serve(ctx, srv, log, cfg.ShutdownTimeout); err != nil {
		db.Close()
		os.Exit(1)
	}
	log.Info("server stopped")
}

// serve runs srv until ctx is done or the listener fails, then shuts it down
// within shutdownTimeout. It returns the listener error, if any.
func serve(ctx context.Context, srv *http.Server, log *slog.Logger, shutdownTimeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info("ingest service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			serveErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("http server shutdown failed", "error", serr)
	}
	return err
}
