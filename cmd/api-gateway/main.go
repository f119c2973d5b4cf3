// Package main is the hub API gateway entry point: mTLS termination, the
// enforcement pipeline, and the commissioning/radio/rule-engine HTTP surface.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokanos/hub/internal/audit"
	"github.com/lokanos/hub/internal/bus"
	"github.com/lokanos/hub/internal/burstguard"
	"github.com/lokanos/hub/internal/commissioning"
	"github.com/lokanos/hub/internal/config"
	"github.com/lokanos/hub/internal/gateway"
	"github.com/lokanos/hub/internal/logging"
	"github.com/lokanos/hub/internal/middleware"
	"github.com/lokanos/hub/internal/obsmetrics"
	"github.com/lokanos/hub/internal/radio"
	"github.com/lokanos/hub/internal/ratelimit"
	"github.com/lokanos/hub/internal/rbac"
	"github.com/lokanos/hub/internal/rules"
)

const serviceVersion = "0.1.0"

type Config struct {
	Port             string        `env:"API_GATEWAY_PORT"`
	TLSMode          string        `env:"GATEWAY_TLS_MODE"`
	ServerCertPath   string        `env:"GATEWAY_TLS_CERT"`
	ServerKeyPath    string        `env:"GATEWAY_TLS_KEY"`
	ClientCAPath     string        `env:"GATEWAY_CLIENT_CA"`
	PolicyPath       string        `env:"GATEWAY_RBAC_POLICY"`
	AuditLogPath     string        `env:"GATEWAY_AUDIT_LOG"`
	RateLimitRPM     int           `env:"GATEWAY_RATE_LIMIT_RPM"`
	RateLimitBurst   int           `env:"GATEWAY_RATE_LIMIT_BURST"`
	BurstGuardRPS    float64       `env:"GATEWAY_BURST_GUARD_RPS"`
	BurstGuardBurst  int           `env:"GATEWAY_BURST_GUARD_BURST"`
	RuleTickInterval time.Duration `env:"RULE_ENGINE_TICK_INTERVAL"`
	ShutdownTimeout  time.Duration `env:"GATEWAY_SHUTDOWN_TIMEOUT"`
	CredentialSecret string        `env:"GATEWAY_CREDENTIAL_SECRET"`
	CredentialTTL    time.Duration `env:"GATEWAY_CREDENTIAL_TTL"`
}

func main() {
	cfg := Config{
		Port:             "8443",
		TLSMode:          "off",
		PolicyPath:       "config/rbac-policy.yaml",
		AuditLogPath:     "data/audit.ndjson",
		RateLimitRPM:     600,
		RateLimitBurst:   60,
		BurstGuardRPS:    100,
		BurstGuardBurst:  200,
		RuleTickInterval: 500 * time.Millisecond,
		ShutdownTimeout:  30 * time.Second,
		CredentialTTL:    commissioning.DefaultCredentialTTL,
	}
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.NewFromEnv("api-gateway")
	metrics := obsmetrics.Init("api-gateway")

	policy, err := rbac.LoadFile(cfg.PolicyPath)
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("load rbac policy")
	}

	auditWriter, err := audit.NewWriter(cfg.AuditLogPath)
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("open audit log")
	}

	limiter := ratelimit.New(ratelimit.Settings{RequestsPerMinute: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst})
	guard := burstguard.New(burstguard.Config{RequestsPerSecond: cfg.BurstGuardRPS, Burst: cfg.BurstGuardBurst})

	if cfg.CredentialSecret == "" {
		logger.Fatal("GATEWAY_CREDENTIAL_SECRET must be set")
	}

	messageBus := bus.NewInMemoryBus(metrics)
	credentialIssuer := commissioning.NewCredentialIssuer([]byte(cfg.CredentialSecret), cfg.CredentialTTL)
	commissioningService := commissioning.NewService(messageBus, metrics, credentialIssuer)
	radioCoordinator := radio.NewCoordinator(messageBus)
	ruleEngine := rules.NewEngine(cfg.RuleTickInterval, messageBus, metrics, logger)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	ruleEngine.Run(runCtx)
	defer ruleEngine.Stop()

	pipeline := gateway.New("api-gateway", policy, limiter, guard, auditWriter, metrics, logger)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.NewBodyLimitMiddleware(0).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(nil).Handler)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/health", middleware.ServiceHealthHandler("api-gateway")).Methods(http.MethodGet)
	router.HandleFunc("/v1/health", middleware.ServiceHealthHandler("api-gateway")).Methods(http.MethodGet)
	router.HandleFunc("/info", middleware.ServiceInfoHandler("api-gateway", serviceVersion)).Methods(http.MethodGet)
	router.HandleFunc("/v1/info", middleware.ServiceInfoHandler("api-gateway", serviceVersion)).Methods(http.MethodGet)

	commissioningHandlers := commissioning.NewHandlers(commissioningService, logger)
	router.Handle("/v1/commissioning/ble/handshake",
		pipeline.Wrap(http.HandlerFunc(commissioningHandlers.Handshake))).Methods(http.MethodPost)
	router.Handle("/v1/commissioning/csr",
		pipeline.Wrap(http.HandlerFunc(commissioningHandlers.SubmitCSR))).Methods(http.MethodPost)
	router.Handle("/v1/commissioning/verify",
		pipeline.Wrap(http.HandlerFunc(commissioningHandlers.VerifyCredentials))).Methods(http.MethodPost)

	radioHandlers := radio.NewHandlers(radioCoordinator, logger)
	router.Handle("/v1/thread/dataset",
		pipeline.Wrap(http.HandlerFunc(radioHandlers.ApplyThreadDataset))).Methods(http.MethodPost)
	router.Handle("/v1/thread/channel",
		pipeline.Wrap(http.HandlerFunc(radioHandlers.UpdateThreadChannel))).Methods(http.MethodPost)
	router.Handle("/v1/wifi/config",
		pipeline.Wrap(http.HandlerFunc(radioHandlers.ApplyWifiConfig))).Methods(http.MethodPost)
	router.Handle("/v1/wifi/channel",
		pipeline.Wrap(http.HandlerFunc(radioHandlers.UpdateWifiChannel))).Methods(http.MethodPost)
	router.Handle("/v1/diag/radio-map",
		pipeline.Wrap(http.HandlerFunc(radioHandlers.RadioMap))).Methods(http.MethodGet)

	ruleHandlers := rules.NewHandlers(ruleEngine, logger)
	router.Handle("/v1/rules",
		pipeline.Wrap(http.HandlerFunc(ruleHandlers.RegisterRule))).Methods(http.MethodPost)
	router.Handle("/v1/rules",
		pipeline.Wrap(http.HandlerFunc(ruleHandlers.ListRules))).Methods(http.MethodGet)
	router.Handle("/v1/rules",
		pipeline.Wrap(http.HandlerFunc(ruleHandlers.DeleteRule))).Methods(http.MethodDelete)
	router.Handle("/v1/diag/trace",
		pipeline.Wrap(http.HandlerFunc(ruleHandlers.Trace))).Methods(http.MethodGet)
	router.Handle("/v1/diag/trace/stream",
		pipeline.Wrap(http.HandlerFunc(ruleHandlers.TraceStream))).Methods(http.MethodGet)

	rbacHandlers := rbac.NewHandlers(policy)
	router.Handle("/v1/diag/routes",
		pipeline.Wrap(http.HandlerFunc(rbacHandlers.Routes))).Methods(http.MethodGet)

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
		ruleEngine.Stop()
	})
	shutdown.ListenForSignals()

	go func() {
		switch cfg.TLSMode {
		case "", "off":
			logger.WithFields(map[string]interface{}{"port": cfg.Port}).Info("api-gateway starting (http)")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("server error")
			}
		case "mtls":
			tlsConfig, err := loadMTLSConfig(cfg.ServerCertPath, cfg.ServerKeyPath, cfg.ClientCAPath)
			if err != nil {
				logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("load mtls config")
			}
			server.TLSConfig = tlsConfig
			logger.WithFields(map[string]interface{}{"port": cfg.Port}).Info("api-gateway starting (mtls)")
			if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("server error")
			}
		default:
			logger.WithFields(map[string]interface{}{"mode": cfg.TLSMode}).Fatal("invalid GATEWAY_TLS_MODE (expected off|mtls)")
		}
	}()

	shutdown.Wait()
}

// loadMTLSConfig builds a server TLS config that terminates TLS with the
// configured certificate/key and requires client certificates verified
// against the configured CA trust store.
func loadMTLSConfig(certPath, keyPath, clientCAPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	caBytes, err := os.ReadFile(clientCAPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, os.ErrInvalid
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
