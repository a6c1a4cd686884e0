package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/auth"
	"github.com/freight/recognition/internal/infrastructure/cache"
	"github.com/freight/recognition/internal/infrastructure/config"
	"github.com/freight/recognition/internal/infrastructure/event"
	"github.com/freight/recognition/internal/infrastructure/logger"
	"github.com/freight/recognition/internal/infrastructure/persistence"
	"github.com/freight/recognition/internal/infrastructure/scheduler"
	"github.com/freight/recognition/internal/infrastructure/storage"
	"github.com/freight/recognition/internal/infrastructure/telemetry"
	"github.com/freight/recognition/internal/interfaces/http/handler"
	"github.com/freight/recognition/internal/interfaces/http/middleware"
	"github.com/freight/recognition/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "github.com/freight/recognition/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

//	@title			Freight Recognition API
//	@version		1.0
//	@description	WIP and accrual recognition for freight jobs: policies, postings, adjustments and period close.

//	@contact.name	Finance Platform
//	@contact.url	https://github.com/freight/recognition

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, cfg.Telemetry.ServiceName)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	log = loggerProvider.Bridge(log, zapcore.InfoLevel)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.Profiling.Enabled,
		ServerAddress:     cfg.Telemetry.Profiling.ServerAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Telemetry.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Telemetry.Profiling.BasicAuthPassword,
		ProfileCPU:        true,
		ProfileAllocSpace: true,
		ProfileInuseSpace: true,
		ProfileGoroutines: true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.SpanProfiles {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Span profiles not enabled", zap.Error(err))
		}
	}

	log.Info("Starting recognition service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithLogger(logger.NewGormLogger(log, logger.GormLevel(cfg.Log.Level),
			logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))),
	)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	meter := meterProvider.Meter("recognition")
	dbTracing, err := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, meter, log)
	if err != nil {
		log.Fatal("Failed to create database tracing plugin", zap.Error(err))
	}
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected")

	// Locks and idempotency
	backends, err := cache.NewFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.App.IsProduction()),
		cache.WithLockConfig(cache.LockConfig{
			TTL:          cfg.Recognition.LockTTL,
			RetryCount:   cfg.Recognition.LockRetryCount,
			RetryBackoff: cfg.Recognition.LockRetryBackoff,
		}),
	).Build(ctx)
	if err != nil {
		log.Fatal("Failed to initialize coordination backends", zap.Error(err))
	}

	recognitionMetrics, err := telemetry.NewRecognitionMetrics(telemetry.RecognitionMetricsConfig{Meter: meter, Logger: log})
	if err != nil {
		log.Fatal("Failed to create recognition metrics", zap.Error(err))
	}

	// Repositories and services
	jobRepo := persistence.NewGormJobRepository(db.DB)
	policyRepo := persistence.NewGormPolicyRepository(db.DB)
	ledgerRepo := persistence.NewGormJobRecognitionRepository(db.DB)
	postingRepo := persistence.NewGormPostingRepository(db.DB)
	actualRepo := persistence.NewGormActualRepository(db.DB)
	runRepo := persistence.NewGormPeriodCloseRunRepository(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB)

	eventBus := event.NewInMemoryEventBus(log)

	recognitionService := apprec.NewRecognitionService(jobRepo, policyRepo, ledgerRepo, postingRepo, txScope, log)
	recognitionService.SetJobLocker(backends.Locker)
	recognitionService.SetMetrics(recognitionMetrics)
	recognitionService.SetEventPublisher(eventBus)

	periodCloseService := apprec.NewPeriodCloseService(jobRepo, policyRepo, ledgerRepo, actualRepo, runRepo, txScope,
		cfg.Recognition.BatchPageSize, log)
	periodCloseService.SetJobLocker(backends.Locker)
	periodCloseService.SetMetrics(recognitionMetrics)
	periodCloseService.SetEventPublisher(eventBus)

	policyService := apprec.NewPolicyService(policyRepo, log)
	policyService.SetEventPublisher(eventBus)

	jobService := apprec.NewJobService(jobRepo, actualRepo, log)
	jobService.SetEventPublisher(eventBus)

	// Run reports
	var reportStore *storage.S3ReportStore
	if cfg.Storage.Bucket != "" {
		reportStore, err = storage.NewS3ReportStore(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize report storage", zap.Error(err))
		}
		if err := reportStore.EnsureBucket(ctx); err != nil {
			log.Warn("Report bucket check failed, archiving may fail", zap.Error(err))
		}
		periodCloseService.SetReportArchiver(storage.NewReportArchiver(reportStore, cfg.Storage.Prefix))
		log.Info("Archiving period-close reports", zap.String("bucket", reportStore.Bucket()))
	} else {
		log.Info("Report storage not configured, period-close reports are not archived")
	}

	// Events
	eventBus.Subscribe(apprec.NewJobStatusChangedHandler(recognitionService, backends.Idempotency, shared.IdempotencyConfig{
		TTL:     cfg.Recognition.IdempotencyTTL,
		Enabled: true,
	}, log))
	eventBus.Subscribe(event.NewAuditLogHandler(log))
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Scheduled period close
	var (
		periodScheduler *scheduler.Scheduler
		cronTrigger     *scheduler.CronTrigger
	)
	if cfg.Scheduler.Enabled {
		schedulerConfig := scheduler.DefaultSchedulerConfig()
		schedulerConfig.MaxConcurrentJobs = cfg.Scheduler.MaxConcurrentJobs
		schedulerConfig.JobTimeout = cfg.Scheduler.JobTimeout
		schedulerConfig.RetryAttempts = cfg.Scheduler.RetryAttempts
		schedulerConfig.RetryDelay = cfg.Scheduler.RetryDelay

		periodScheduler, err = scheduler.NewScheduler(schedulerConfig, periodCloseService, backends.Locker, log)
		if err != nil {
			log.Fatal("Failed to create scheduler", zap.Error(err))
		}
		periodScheduler.OnJobDone(func(job *scheduler.Job) {
			log.Info("Scheduled period close finished",
				zap.String("company", job.Company),
				zap.Time("period_end", job.PeriodEnd),
				zap.String("status", string(job.Status)),
			)
		})
		if err := periodScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}

		triggerConfig := scheduler.DefaultCronTriggerConfig()
		triggerConfig.Schedule = cfg.Recognition.PeriodCloseCron
		triggerConfig.Companies = cfg.Recognition.PeriodCloseCompanies
		cronTrigger, err = scheduler.NewCronTrigger(triggerConfig, periodScheduler, log)
		if err != nil {
			log.Fatal("Failed to create period-close trigger", zap.Error(err))
		}
		if err := cronTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start period-close trigger", zap.Error(err))
		}
	}

	// Authentication
	tokenService := auth.NewTokenService(cfg.JWT)
	var blacklist auth.TokenBlacklist = auth.NewInMemoryTokenBlacklist()
	if backends.Redis != nil {
		blacklist = auth.NewRedisTokenBlacklist(backends.Redis, "")
	}
	jwtMiddleware := middleware.JWTAuth(middleware.JWTMiddlewareConfig{
		TokenService:     tokenService,
		TokenBlacklist:   blacklist,
		Required:         cfg.JWT.Required,
		SkipPaths:        []string{"/health", "/health/ready", "/api/v1/system/info"},
		SkipPathPrefixes: []string{"/swagger"},
		Logger:           log,
	})

	// HTTP
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	engine.Use(
		middleware.RequestID(),
		middleware.TracingWithConfig(middleware.TracingConfig{
			Enabled:     cfg.Telemetry.Enabled,
			ServiceName: cfg.Telemetry.ServiceName,
		}),
		middleware.SpanErrorMarker(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.HTTPMetrics(meter, log),
		middleware.Secure(),
		middleware.CORSWithConfig(corsConfig),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		requestTimeout(cfg.HTTP),
	)

	apiMiddleware := []gin.HandlerFunc{
		jwtMiddleware,
		middleware.TracingAttributeInjector(),
		middleware.ProfilingWithConfig(middleware.ProfilingConfig{Enabled: cfg.Telemetry.Profiling.Enabled}),
	}
	if cfg.HTTP.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(ctx, cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(limiter))
	}

	var reportLinker handler.ReportLinker
	if reportStore != nil {
		reportLinker = reportStore
	}

	r := router.NewRouter(engine, router.WithAPIVersion("v1"), router.WithGroupMiddleware(apiMiddleware...))
	r.Register(router.Routes(router.Handlers{
		Recognition: handler.NewRecognitionHandler(recognitionService, jobService),
		Journal:     handler.NewJournalHandler(recognitionService),
		PeriodClose: handler.NewPeriodCloseHandler(periodCloseService, reportLinker),
		Policy:      handler.NewPolicyHandler(policyService),
		Job:         handler.NewJobHandler(jobService),
	}, middleware.PermissionConfig{AllowAnonymous: !cfg.JWT.Required, Logger: log})...)

	checks := map[string]handler.HealthCheck{
		"database": func(context.Context) error { return db.Ping() },
	}
	if backends.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return backends.Redis.Ping(ctx).Err() }
	}
	systemHandler := handler.NewSystemHandler(cfg.App.Name, telemetry.ServiceVersion, checks)
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	r.Register(systemRoutes)
	r.Setup()

	engine.GET("/health", systemHandler.Live)
	engine.GET("/health/ready", systemHandler.Ready)
	engine.GET("/swagger/*any",
		middleware.SwaggerProtection(middleware.SwaggerConfig{
			Enabled:     cfg.Swagger.Enabled,
			RequireAuth: cfg.Swagger.RequireAuth,
			AllowedIPs:  cfg.Swagger.AllowedIPs,
		}, jwtMiddleware),
		ginSwagger.WrapHandler(swaggerFiles.Handler),
	)
	engine.NoRoute(systemHandler.NoRoute)

	if cfg.HTTP.WriteTimeout > 0 && cfg.HTTP.WriteTimeout < cfg.HTTP.PeriodCloseTimeout {
		log.Warn("http.write_timeout is shorter than http.period_close_timeout; long period closes will be cut off",
			zap.Duration("write_timeout", cfg.HTTP.WriteTimeout),
			zap.Duration("period_close_timeout", cfg.HTTP.PeriodCloseTimeout),
		)
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if cronTrigger != nil {
		if err := cronTrigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping period-close trigger", zap.Error(err))
		}
	}
	if periodScheduler != nil {
		if err := periodScheduler.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping scheduler", zap.Error(err))
		}
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if err := backends.Close(); err != nil {
		log.Error("Error closing coordination backends", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down metrics", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down log export", zap.Error(err))
	}

	log.Info("Server exited")
}

// requestTimeout gives synchronous period closes their own, longer deadline
func requestTimeout(cfg config.HTTPConfig) gin.HandlerFunc {
	standard := middleware.Timeout(cfg.RequestTimeout)
	periodClose := middleware.Timeout(cfg.PeriodCloseTimeout)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/recognition/period-close") {
			periodClose(c)
			return
		}
		standard(c)
	}
}
