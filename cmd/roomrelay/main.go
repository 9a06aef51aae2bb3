package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	httphandlers "roomrelay/internal/handlers/http"
	"roomrelay/internal/infrastructure/middleware"
	"roomrelay/internal/infrastructure/monitoring"
	"roomrelay/internal/infrastructure/repositories"
	signalserver "roomrelay/internal/infrastructure/signal"
	"roomrelay/pkg/config"
	"roomrelay/pkg/logger"
	"roomrelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var defaultConfigPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/roomrelay/config.yaml",
	"config.yaml",
}

func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		return cfg, explicit, err
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	cfg, err := config.Load("")
	return cfg, "", err
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, loadedFrom, err := loadConfig(*configPath)
	if err != nil {
		logger.New("info").Sugar().Fatalw("Invalid configuration", "path", loadedFrom, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if loadedFrom != "" {
		log.Infow("Loaded config", "path", loadedFrom)
	} else {
		log.Info("No config file found, using defaults")
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	// Metrics
	metricsService := services.NewMetricsService()
	recorders := services.MultiRecorder{metricsService}
	if cfg.Monitoring.PrometheusEnabled {
		recorders = append(recorders, monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer))
	}
	var metrics ports.MetricsRecorder = recorders

	// Storage
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("Failed to create repository factory", "error", err)
	}
	rooms := repoFactory.CreateRoomRepository(metrics)
	locker := repoFactory.CreateRoomLocker()

	// Services
	groups := services.NewBroadcastGroups(log)
	registry := services.NewConnectionRegistry(groups, metrics, log)
	hasher := services.NewPasswordHasher(cfg.Rooms.PasswordCost)
	admission := services.NewAdmissionService(rooms, registry, groups, locker, hasher, metrics, log,
		services.AdmissionConfig{PendingTTL: cfg.Rooms.PendingRequestTTL})
	roomService := services.NewRoomService(rooms, registry, groups, admission, hasher, metrics, log,
		services.RoomConfig{PruneOnKick: cfg.Rooms.PruneOnKick, InviteLinkBase: cfg.Rooms.InviteLinkBase})
	relayService := services.NewRelayService(registry, metrics, log)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)

	wsServer := signalserver.NewWebSocketServer(signalserver.Dependencies{
		Auth:      authService,
		Registry:  registry,
		Admission: admission,
		Rooms:     roomService,
		Relay:     relayService,
		Metrics:   metrics,
	}, signalserver.OptionsFromConfig(cfg), log)

	health := monitoring.NewHealthChecker()
	health.AddCheck("storage:"+repoFactory.Backend(), repoFactory.HealthCheck, cfg.Monitoring.HealthCheckTimeout)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctxLogger := logger.NewContextLogger(zapLogger)
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(ctxLogger),
		middleware.ErrorHandlerMiddleware(ctxLogger),
	)

	router.GET(cfg.Signal.Path, middleware.NewWebSocketConnectionLimiter(cfg), gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", gin.WrapF(wsServer.HealthCheck))
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
		log.Info("Prometheus metrics enabled")
	}

	api := router.Group("/api/v1")
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	httphandlers.NewAuthHandler(authService, httphandlers.AuthConfig{
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
		CookieName:     cfg.Auth.CookieName,
	}).SetupRoutes(api)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(authService, cfg.Auth.CookieName))
	httphandlers.NewRoomHandler(roomService, admission).SetupRoutes(protected)
	protected.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, metricsService.Snapshot())
	})

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout is not set: it would cut hijacked signaling connections.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("Starting roomrelay server", "address", cfg.Server.Address, "backend", repoFactory.Backend(), "signal_path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return admission.Run(gctx, cfg.Rooms.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down roomrelay server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			errs = append(errs, srv.Close())
		}
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := repoFactory.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("Server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("roomrelay server stopped")
}
