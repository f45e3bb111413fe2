package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"meetsync/internal/core/services"
	"meetsync/internal/infrastructure/distributed"
	"meetsync/internal/infrastructure/middleware"
	"meetsync/internal/infrastructure/monitoring"
	"meetsync/internal/infrastructure/relay"
	"meetsync/internal/infrastructure/repositories"
	"meetsync/pkg/config"
	"meetsync/pkg/logger"
	"meetsync/pkg/tracing"
	"meetsync/pkg/utils"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/meetsync/config.yaml",
	"config.yaml",
}

func main() {
	cfg, path, err := config.LoadFirst(configPaths...)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	instanceID := cfg.Relay.InstanceID
	if instanceID == "" {
		instanceID = utils.GenerateInstanceID("relay")
	}
	log := zapLogger.Sugar().With("component", "relay", "instance_id", instanceID)

	if err != nil {
		log.Warnw("invalid configuration, using defaults", "path", path, "error", err)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName + "-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	// The factory is only used for its Redis connection; meetings live in
	// the registry.
	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer repoFactory.Close()

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	tickets := services.NewTicketService(cfg.Auth.JWTSecret, cfg.Auth.TicketTTL)
	server := relay.NewServer(cfg, tickets, metrics, log)

	health := monitoring.NewHealthChecker()
	if client := repoFactory.RedisClient(); client != nil {
		server.WithCluster(
			distributed.NewEventBus(client, instanceID, log),
			distributed.NewPresenceRegistry(client, instanceID, log),
		)
		health.AddRedisCheck(client, 2*time.Second)
		log.Info("relay clustering enabled")
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
	)
	server.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": server.Hub().Count()})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// No write timeout: sockets are long lived and the relay sets its own
	// per-frame deadlines.
	srv := &http.Server{
		Addr:        cfg.Relay.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("starting relay", "address", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := server.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnw("error releasing relay presence", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during server shutdown", "error", err)
			_ = srv.Close()
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("error flushing traces", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalw("relay failed", "error", err)
	}
	log.Info("relay stopped")
}
