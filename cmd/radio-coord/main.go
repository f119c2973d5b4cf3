// Package main is the radio coordinator entry point: a standalone deployment
// of the Thread/Wi-Fi radio coordinator, for profiles that run it apart from
// the gateway process. As with cmd/rule-engine, this binary's bus instance is
// local to it since internal/bus carries no cross-process transport.
package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokanos/hub/internal/bus"
	"github.com/lokanos/hub/internal/config"
	"github.com/lokanos/hub/internal/logging"
	"github.com/lokanos/hub/internal/middleware"
	"github.com/lokanos/hub/internal/obsmetrics"
	"github.com/lokanos/hub/internal/radio"
)

const serviceVersion = "0.1.0"

type Config struct {
	Port            string        `env:"RADIO_COORD_PORT"`
	ShutdownTimeout time.Duration `env:"RADIO_COORD_SHUTDOWN_TIMEOUT"`
}

func main() {
	cfg := Config{
		Port:            "8447",
		ShutdownTimeout: 30 * time.Second,
	}
	logger := logging.NewFromEnv("radio-coord")
	if err := config.Load(&cfg); err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("load config")
	}

	metrics := obsmetrics.Init("radio-coord")
	messageBus := bus.NewInMemoryBus(metrics)
	coordinator := radio.NewCoordinator(messageBus)
	handlers := radio.NewHandlers(coordinator, logger)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.MetricsMiddleware(metrics))

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/health", middleware.ServiceHealthHandler("radio-coord")).Methods(http.MethodGet)
	router.HandleFunc("/v1/health", middleware.ServiceHealthHandler("radio-coord")).Methods(http.MethodGet)
	router.HandleFunc("/info", middleware.ServiceInfoHandler("radio-coord", serviceVersion)).Methods(http.MethodGet)
	router.HandleFunc("/v1/info", middleware.ServiceInfoHandler("radio-coord", serviceVersion)).Methods(http.MethodGet)

	router.HandleFunc("/v1/thread/dataset", handlers.ApplyThreadDataset).Methods(http.MethodPost)
	router.HandleFunc("/v1/thread/channel", handlers.UpdateThreadChannel).Methods(http.MethodPost)
	router.HandleFunc("/v1/wifi/config", handlers.ApplyWifiConfig).Methods(http.MethodPost)
	router.HandleFunc("/v1/wifi/channel", handlers.UpdateWifiChannel).Methods(http.MethodPost)
	router.HandleFunc("/v1/diag/radio-map", handlers.RadioMap).Methods(http.MethodGet)

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
		logger.WithFields(map[string]interface{}{"port": cfg.Port}).Info("radio-coord starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("server error")
		}
	}()

	shutdown.Wait()
}
