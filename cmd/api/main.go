package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/opencourse/lms-api/api/swagger"
	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/handler"
	"github.com/opencourse/lms-api/internal/middleware"
	"github.com/opencourse/lms-api/internal/models"
	"github.com/opencourse/lms-api/internal/repository"
	"github.com/opencourse/lms-api/internal/service"
	"github.com/opencourse/lms-api/pkg/cache"
	"github.com/opencourse/lms-api/pkg/config"
	"github.com/opencourse/lms-api/pkg/database"
	"github.com/opencourse/lms-api/pkg/jobs"
	"github.com/opencourse/lms-api/pkg/logger"
	corsmiddleware "github.com/opencourse/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/opencourse/lms-api/pkg/middleware/requestid"
	"github.com/opencourse/lms-api/pkg/storage"
)

// @title OpenCourse LMS API
// @version 1.0.0
// @description Course management API with automatic lecture/exam weight allocation
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	topicRepo := repository.NewTopicRepository(db)
	lectureRepo := repository.NewLectureRepository(db)
	examRepo := repository.NewExamRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	reportJobRepo := repository.NewReportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	txManager := repository.NewTxManager(db)

	// Services.
	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)

	calc := allocation.NewCalculator(cfg.Weights.Precision)
	recalcSvc := service.NewRecalcService(courseRepo, topicRepo, lectureRepo, examRepo, calc, cfg.Weights.Epsilon, logr)
	recalcSvc.SetObserver(metricsSvc)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	courseSvc := service.NewCourseService(courseRepo, topicRepo, lectureRepo, examRepo, recalcSvc, txManager, userRepo, cacheSvc, validate, logr)
	topicSvc := service.NewTopicService(topicRepo, courseRepo, recalcSvc, txManager, cacheSvc, validate, logr)
	lectureSvc := service.NewLectureService(lectureRepo, topicRepo, recalcSvc, txManager, cacheSvc, validate, logr)
	examSvc := service.NewExamService(examRepo, topicRepo, recalcSvc, txManager, cacheSvc, validate, logr)
	questionSvc := service.NewQuestionService(questionRepo, examRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, lectureRepo, topicRepo, validate, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(reportJobRepo, courseSvc, store, signer, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
		}, service.ExportRetention{
			ResultTTL:       cfg.Exports.ResultTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
		}, logr)
		exportSvc.Start(ctx)
		defer exportSvc.Stop()
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	topicHandler := handler.NewTopicHandler(topicSvc)
	lectureHandler := handler.NewLectureHandler(lectureSvc)
	examHandler := handler.NewExamHandler(examSvc)
	questionHandler := handler.NewQuestionHandler(questionSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
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

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
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
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	authed := api.Group("", middleware.JWT(authSvc))
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor)

	courses := authed.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		courses.GET("/:id/weights", courseHandler.Weights)
		courses.GET("/:id/topics", topicHandler.List)
		courses.POST("", staff, courseHandler.Create)
		courses.PUT("/:id", staff, courseHandler.Update)
		courses.PUT("/:id/split", staff, courseHandler.UpdateSplit)
		courses.POST("/:id/recalculate", staff, courseHandler.Recalculate)
		courses.POST("/:id/topics", staff, topicHandler.Create)
		courses.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), courseHandler.Delete)
	}

	topics := authed.Group("/topics")
	{
		topics.GET("/:id", topicHandler.Get)
		topics.GET("/:id/lectures", lectureHandler.List)
		topics.GET("/:id/exams", examHandler.List)
		topics.PUT("/:id", staff, topicHandler.Update)
		topics.DELETE("/:id", staff, topicHandler.Delete)
		topics.POST("/:id/lectures", staff, lectureHandler.Create)
		topics.POST("/:id/exams", staff, examHandler.Create)
	}

	lectures := authed.Group("/lectures")
	{
		lectures.GET("/:id", lectureHandler.Get)
		lectures.PUT("/:id", staff, lectureHandler.Update)
		lectures.DELETE("/:id", staff, lectureHandler.Delete)
	}

	exams := authed.Group("/exams")
	{
		exams.GET("/:id", examHandler.Get)
		exams.GET("/:id/questions", questionHandler.List)
		exams.PUT("/:id", staff, examHandler.Update)
		exams.DELETE("/:id", staff, examHandler.Delete)
		exams.POST("/:id/questions", staff, questionHandler.Create)
	}

	questions := authed.Group("/questions")
	{
		questions.GET("/:id", questionHandler.Get)
		questions.PUT("/:id", staff, questionHandler.Update)
		questions.DELETE("/:id", staff, questionHandler.Delete)
	}

	enrollments := authed.Group("/enrollments")
	{
		enrollments.POST("", enrollmentHandler.Enroll)
		enrollments.GET("", enrollmentHandler.List)
		enrollments.POST("/:id/lectures", enrollmentHandler.CompleteLecture)
		enrollments.POST("/:id/complete", enrollmentHandler.Complete)
		enrollments.GET("/:id/progress", enrollmentHandler.Progress)
	}

	if cfg.Exports.Enabled {
		exports := api.Group("/exports")
		{
			exports.POST("", middleware.JWT(authSvc), staff, exportHandler.Create)
			exports.GET("/:id", middleware.JWT(authSvc), exportHandler.Get)
			// Download links are pre-signed, no session required.
			exports.GET("/download", exportHandler.Download)
		}
	}

	api.GET("/metrics/snapshot", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
