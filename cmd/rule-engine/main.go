// Package main is the rule engine entry point: a standalone deployment of
// the tick-driven automation engine, for profiles that run it apart from the
// gateway process. Because the in-process bus (internal/bus) carries no
// transport, this binary's bus instance is local to it; composing the engine
// with the device/radio surfaces it can fire against requires either running
// it in-process with the gateway (see cmd/api-gateway) or a future networked
// Bus implementation.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokanos/hub/internal/bus"
	"github.com/lokanos/hub/internal/config"
	"github.com/lokanos/hub/internal/logging"
	"github.com/lokanos/hub/internal/middleware"
	"github.com/lokanos/hub/internal/obsmetrics"
	"github.com/lokanos/hub/internal/rules"
)

type Config struct {
	Port            string        `env:"RULE_ENGINE_PORT"`
	TickInterval    time.Duration `env:"RULE_ENGINE_TICK_INTERVAL"`
	ShutdownTimeout time.Duration `env:"RULE_ENGINE_SHUTDOWN_TIMEOUT"`
}

func main() {
	cfg := Config{
		Port:            "8446",
		TickInterval:    rules.DefaultTickInterval,
		ShutdownTimeout: 30 * time.Second,
	}
	logger := logging.NewFromEnv("rule-engine")
	if err := config.Load(&cfg); err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("load config")
	}

	metrics := obsmetrics.Init("rule-engine")
	messageBus := bus.NewInMemoryBus(metrics)

	engine := rules.NewEngine(cfg.TickInterval, messageBus, metrics, logger)
	runCtx, cancelRun := context.WithCancel(context.Background())
	engine.Run(runCtx)

	handlers := rules.NewHandlers(engine, logger)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.MetricsMiddleware(metrics))

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/health", middleware.ServiceHealthHandler("rule-engine")).Methods(http.MethodGet)
	router.HandleFunc("/v1/health", middleware.ServiceHealthHandler("rule-engine")).Methods(http.MethodGet)
	router.HandleFunc("/info", middleware.ServiceInfoHandler("rule-engine", "0.1.0")).Methods(http.MethodGet)
	router.HandleFunc("/v1/info", middleware.ServiceInfoHandler("rule-engine", "0.1.0")).Methods(http.MethodGet)
	router.HandleFunc("/v1/rules", handlers.RegisterRule).Methods(http.MethodPost)
	router.HandleFunc("/v1/rules", handlers.ListRules).Methods(http.MethodGet)
	router.HandleFunc("/v1/rules", handlers.DeleteRule).Methods(http.MethodDelete)
	router.HandleFunc("/v1/diag/trace", handlers.Trace).Methods(http.MethodGet)

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
	shutdown.OnShutdown(func() {
		cancelRun()
		engine.Stop()
	})
	shutdown.ListenForSignals()

	go func() {
		logger.WithFields(map[string]interface{}{"port": cfg.Port}).Info("rule-engine starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("server error")
		}
	}()

	shutdown.Wait()
}
