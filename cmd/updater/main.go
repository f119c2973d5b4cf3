// Package main is the updater entry point: the A/B slot state machine, bundle
// verification, and the health-gated commit/rollback HTTP surface.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokanos/hub/internal/bundle"
	"github.com/lokanos/hub/internal/config"
	"github.com/lokanos/hub/internal/health"
	"github.com/lokanos/hub/internal/logging"
	"github.com/lokanos/hub/internal/middleware"
	"github.com/lokanos/hub/internal/obsmetrics"
	"github.com/lokanos/hub/internal/updater"
)

const serviceVersion = "0.1.0"

type Config struct {
	Port              string        `env:"UPDATER_PORT"`
	StatePath         string        `env:"UPDATER_STATE_PATH"`
	PublicKeyPath     string        `env:"UPDATER_BUNDLE_PUBKEY"`
	HealthEndpoints   []string      `env:"UPDATER_HEALTH_ENDPOINTS"`
	HealthDeadline    time.Duration `env:"UPDATER_HEALTH_DEADLINE"`
	HealthQuorum      int           `env:"UPDATER_HEALTH_QUORUM"`
	HealthPollTimeout time.Duration `env:"UPDATER_HEALTH_POLL_INTERVAL"`
	ShutdownTimeout   time.Duration `env:"UPDATER_SHUTDOWN_TIMEOUT"`
}

// verifierAdapter adapts bundle.FilesystemVerifier's concrete return type to
// the updater.Verifier interface, which speaks only in terms updater itself
// defines (so updater need not import bundle).
type verifierAdapter struct {
	inner *bundle.FilesystemVerifier
}

func (v verifierAdapter) Verify(bundlePath string) (updater.Metadata, error) {
	return v.inner.Verify(bundlePath)
}

func main() {
	cfg := Config{
		Port:              "8444",
		StatePath:         "data/updater-state.json",
		PublicKeyPath:     "config/bundle-signing-key.pem",
		HealthDeadline:    30 * time.Second,
		HealthQuorum:      1,
		HealthPollTimeout: 250 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
	}
	if err := config.Load(&cfg); err != nil {
		logging.NewFromEnv("updater").WithFields(map[string]interface{}{"error": err.Error()}).Fatal("load config")
	}

	logger := logging.NewFromEnv("updater")
	metrics := obsmetrics.Init("updater")

	store := updater.NewFileStore(cfg.StatePath)
	machine, err := updater.NewMachine(context.Background(), store)
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("load updater state")
	}

	verifier, err := bundle.NewFilesystemVerifierFromPEM(cfg.PublicKeyPath)
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("load bundle signing key")
	}

	gate := health.NewHTTPGate(nil, cfg.HealthPollTimeout)

	service := updater.NewService(machine, verifierAdapter{inner: verifier}, gate, updater.CommitConfig{
		HealthEndpoints: cfg.HealthEndpoints,
		HealthDeadline:  cfg.HealthDeadline,
		HealthQuorum:    cfg.HealthQuorum,
	})
	handlers := updater.NewHandlers(service, logger)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.NewBodyLimitMiddleware(0).Handler)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/health", middleware.ServiceHealthHandler("updater")).Methods(http.MethodGet)
	router.HandleFunc("/v1/health", middleware.ServiceHealthHandler("updater")).Methods(http.MethodGet)
	router.HandleFunc("/info", middleware.ServiceInfoHandler("updater", serviceVersion)).Methods(http.MethodGet)
	router.HandleFunc("/v1/info", middleware.ServiceInfoHandler("updater", serviceVersion)).Methods(http.MethodGet)

	router.HandleFunc("/v1/update/stage", handlers.Stage).Methods(http.MethodPost)
	router.HandleFunc("/v1/update/commit", handlers.Commit).Methods(http.MethodPost)
	router.HandleFunc("/v1/update/rollback", handlers.Rollback).Methods(http.MethodPost)
	router.HandleFunc("/v1/update/status", handlers.Status).Methods(http.MethodGet)

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
		logger.WithFields(map[string]interface{}{"port": cfg.Port}).Info("updater starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("server error")
		}
	}()

	shutdown.Wait()
}
