// Package main is the audit log entry point: a standalone reader over the
// hash-chained log the gateway appends to, exposing export and chain
// verification over HTTP.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokanos/hub/internal/audit"
	"github.com/lokanos/hub/internal/config"
	"github.com/lokanos/hub/internal/logging"
	"github.com/lokanos/hub/internal/middleware"
	"github.com/lokanos/hub/internal/obsmetrics"
)

const serviceVersion = "0.1.0"

type Config struct {
	Port            string        `env:"AUDIT_LOG_PORT"`
	LogPath         string        `env:"AUDIT_LOG_PATH"`
	MirrorDSN       string        `env:"AUDIT_LOG_MIRROR_DSN"`
	ShutdownTimeout time.Duration `env:"AUDIT_LOG_SHUTDOWN_TIMEOUT"`
}

func main() {
	cfg := Config{
		Port:            "8445",
		LogPath:         "data/audit.ndjson",
		ShutdownTimeout: 30 * time.Second,
	}
	logger := logging.NewFromEnv("audit-log")
	if err := config.Load(&cfg); err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("load config")
	}

	metrics := obsmetrics.Init("audit-log")

	writer, err := audit.NewWriter(cfg.LogPath)
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("open audit log")
	}

	if cfg.MirrorDSN != "" {
		mirror, err := audit.OpenSQLMirror(context.Background(), cfg.MirrorDSN)
		if err != nil {
			logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("open audit mirror")
		}
		defer mirror.Close()
		writer.SetMirror(mirror)
	}

	handlers := audit.NewHandlers(writer)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.MetricsMiddleware(metrics))

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/health", middleware.ServiceHealthHandler("audit-log")).Methods(http.MethodGet)
	router.HandleFunc("/v1/health", middleware.ServiceHealthHandler("audit-log")).Methods(http.MethodGet)
	router.HandleFunc("/info", middleware.ServiceInfoHandler("audit-log", serviceVersion)).Methods(http.MethodGet)
	router.HandleFunc("/v1/info", middleware.ServiceInfoHandler("audit-log", serviceVersion)).Methods(http.MethodGet)

	router.HandleFunc("/v1/events", handlers.Submit).Methods(http.MethodPost)
	router.HandleFunc("/v1/events/export", handlers.Export).Methods(http.MethodGet)
	router.HandleFunc("/v1/audit/verify", handlers.Verify).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(server, cfg.ShutdownTimeout)
	shutdown.ListenForSignals()

	go func() {
		logger.WithFields(map[string]interface{}{"port": cfg.Port}).Info("audit-log starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("server error")
		}
	}()

	shutdown.Wait()
}
