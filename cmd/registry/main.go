package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meetsync/internal/core/services"
	httphandlers "meetsync/internal/handlers/http"
	"meetsync/internal/infrastructure/middleware"
	"meetsync/internal/infrastructure/monitoring"
	"meetsync/internal/infrastructure/repositories"
	"meetsync/pkg/config"
	"meetsync/pkg/logger"
	"meetsync/pkg/tracing"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/meetsync/config.yaml",
	"config.yaml",
}

func main() {
	startTime := time.Now()

	cfg, path, err := config.LoadFirst(configPaths...)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar().With("component", "registry")

	if err != nil {
		log.Warnw("invalid configuration, using defaults", "path", path, "error", err)
	} else if path != "" {
		log.Infow("loaded configuration", "path", path)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName + "-registry",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer repoFactory.Close()

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	tickets := services.NewTicketService(cfg.Auth.JWTSecret, cfg.Auth.TicketTTL)
	registry := services.NewRegistryService(
		repoFactory.CreateMeetingRepository(),
		repoFactory.CreateAuthorityRepository(),
		repoFactory.CreateMetadataRepository(),
		tickets,
		metrics,
		services.RegistryConfig{
			PublicURL:           cfg.Registry.PublicURL,
			JoinPage:            cfg.Registry.JoinPage,
			MediaRegion:         cfg.Registry.MediaRegion,
			DefaultMaxAttendees: cfg.Registry.DefaultMaxAttendees,
		},
		log,
	)

	health := monitoring.NewHealthChecker()
	health.AddRegistryCheck(registry, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewRegistryHandler(registry).SetupRoutes(router)

	router.GET("/health/checks", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status.Status,
			"timestamp": status.Timestamp,
			"checks":    status.Checks,
			"uptime":    time.Since(startTime).String(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting registry", "address", cfg.Server.Address, "public_url", cfg.Registry.PublicURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("registry server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}

	log.Info("registry stopped")
}
