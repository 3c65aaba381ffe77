package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/skillbridge/tpm-api/api/swagger"
	"github.com/skillbridge/tpm-api/internal/handler"
	"github.com/skillbridge/tpm-api/internal/middleware"
	"github.com/skillbridge/tpm-api/internal/models"
	"github.com/skillbridge/tpm-api/internal/repository"
	"github.com/skillbridge/tpm-api/internal/service"
	"github.com/skillbridge/tpm-api/pkg/cache"
	"github.com/skillbridge/tpm-api/pkg/config"
	"github.com/skillbridge/tpm-api/pkg/database"
	"github.com/skillbridge/tpm-api/pkg/jobs"
	"github.com/skillbridge/tpm-api/pkg/logger"
	corsmiddleware "github.com/skillbridge/tpm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/skillbridge/tpm-api/pkg/middleware/requestid"
	"github.com/skillbridge/tpm-api/pkg/storage"
)

// @title SkillBridge TPM API
// @version 1.0.0
// @description Training program management and attendance backend
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	programRepo := repository.NewProgramRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Summary.CacheTTL, logr, cfg.Summary.CacheEnabled)
	}

	qrSigner := storage.NewTokenSigner(cfg.Attendance.QRSecret, cfg.Attendance.QRTTL)
	reportSigner := storage.NewTokenSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	exportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}

	// Services.
	authSvc := service.NewAuthService(userRepo, auditRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	programSvc := service.NewProgramService(programRepo, userRepo, auditRepo, nil, logr)

	sessionSvc := service.NewSessionService(service.SessionServiceParams{
		Sessions:   sessionRepo,
		Programs:   programRepo,
		Attendance: attendanceRepo,
		Audit:      auditRepo,
		Signer:     qrSigner,
		Cache:      cacheSvc,
		Metrics:    metricsSvc,
		Logger:     logr,
		Config: service.SessionServiceConfig{
			AccessLinkBaseURL: cfg.Attendance.AccessLinkBaseURL,
		},
	})

	attendanceSvc := service.NewAttendanceService(service.AttendanceServiceParams{
		Records:     attendanceRepo,
		Sessions:    sessionRepo,
		Enrollments: programRepo,
		Audit:       auditRepo,
		Signer:      qrSigner,
		Cache:       cacheSvc,
		Metrics:     metricsSvc,
		Logger:      logr,
		Config: service.AttendanceServiceConfig{
			GeofenceRadiusMeters: cfg.Attendance.GeofenceRadiusMeters,
			LateThreshold:        cfg.Attendance.LateThreshold,
		},
	})

	var summarySource service.SummaryDataSource = service.NewLiveSummarySource(programRepo, sessionRepo, attendanceRepo)
	if cfg.Summary.FixtureMode {
		logr.Sugar().Warnw("summary fixture mode enabled, serving canned snapshots")
		summarySource = service.NewFixtureSummarySource()
	}
	summarySvc := service.NewSummaryService(summarySource, programRepo, cacheSvc, logr, service.SummaryServiceConfig{
		CacheTTL: cfg.Summary.CacheTTL,
	})

	reportSvc := service.NewReportService(service.ReportServiceParams{
		AuditRepo: auditRepo,
		Summaries: summarySvc,
		Store:     exportStore,
		Signer:    reportSigner,
		Audit:     auditRepo,
		Logger:    logr,
		Config: service.ReportServiceConfig{
			SignedURLTTL: cfg.Reports.SignedURLTTL,
			DownloadBase: cfg.APIPrefix + "/reports/download",
		},
		Queue: jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Reports.Enabled {
		reportSvc.Start(ctx)
		defer reportSvc.Stop()

		go func() {
			ticker := time.NewTicker(cfg.Reports.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					reportSvc.CleanupExpired()
				}
			}
		}()
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	programHandler := handler.NewProgramHandler(programSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	summaryHandler := handler.NewSummaryHandler(summarySvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	// Export download links carry their own signed token.
	api.GET("/reports/download/:token", reportHandler.Download)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		programs := protected.Group("/programs", middleware.RequireResource(middleware.ResourcePrograms))
		{
			programs.GET("", programHandler.List)
			programs.POST("", programHandler.Create)
			programs.GET("/:id", programHandler.Get)
			programs.PATCH("/:id", programHandler.Update)
			programs.POST("/:id/trainees", middleware.Audit(auditRepo, models.AuditActionProgramEnroll, "program"), programHandler.Enroll)
			programs.POST("/:id/facilitators", middleware.Audit(auditRepo, models.AuditActionProgramAssign, "program"), programHandler.Assign)
			programs.GET("/:id/summary", middleware.RequireResource(middleware.ResourceSummaries), summaryHandler.ProgramSummary)
			programs.GET("/:id/trainees/:traineeId/detail", middleware.RequireResource(middleware.ResourceSummaries), summaryHandler.StudentDetail)
			programs.POST("/:id/export", middleware.RequireResource(middleware.ResourceExports), reportHandler.RequestExport)
		}

		sessions := protected.Group("/sessions", middleware.RequireResource(middleware.ResourceSessions))
		{
			sessions.GET("", sessionHandler.List)
			sessions.POST("", sessionHandler.Create)
			sessions.GET("/:id", sessionHandler.Get)
			sessions.POST("/:id/start-online", sessionHandler.StartOnline)
			sessions.POST("/:id/start-physical", sessionHandler.StartPhysical)
			sessions.POST("/:id/complete", sessionHandler.Complete)
			sessions.POST("/:id/cancel", sessionHandler.Cancel)
		}

		attendance := protected.Group("/attendance", middleware.RequireResource(middleware.ResourceAttendance))
		{
			attendance.GET("", attendanceHandler.List)
			attendance.POST("/check-in/qr", attendanceHandler.CheckInQR)
			attendance.POST("/check-in/geo/:id", attendanceHandler.CheckInGeolocation)
			attendance.POST("/mark", attendanceHandler.MarkManual)
			attendance.POST("/sessions/:id/excuse", attendanceHandler.Excuse)
		}

		reports := protected.Group("/reports")
		{
			reports.GET("/master-log", middleware.RequireResource(middleware.ResourceMasterLog), reportHandler.MasterLog)
			reports.GET("/exports/:jobId", middleware.RequireResource(middleware.ResourceExports), reportHandler.JobStatus)
		}

		protected.GET("/system/metrics", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleITSupport), metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
