package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/mili-llama-api/api/swagger"
	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/handler"
	internalmiddleware "github.com/noah-isme/mili-llama-api/internal/middleware"
	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/repository"
	"github.com/noah-isme/mili-llama-api/internal/service"
	"github.com/noah-isme/mili-llama-api/pkg/cache"
	"github.com/noah-isme/mili-llama-api/pkg/config"
	"github.com/noah-isme/mili-llama-api/pkg/database"
	"github.com/noah-isme/mili-llama-api/pkg/jobs"
	"github.com/noah-isme/mili-llama-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/mili-llama-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/mili-llama-api/pkg/middleware/requestid"
	"github.com/noah-isme/mili-llama-api/pkg/storage"
)

// @title Mili Llama API
// @version 1.0.0
// @description Substitute staffing and time-off API for schools
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// mongoIndexes lists the equality filters the services query by.
var mongoIndexes = map[string][]string{
	models.CollectionSchools:     {"domain"},
	models.CollectionAssignments: {"schoolUID", "createdBy"},
	models.CollectionTeachers:    {"schoolUid"},
	models.CollectionUsers:       {"emailAddress", "googleSub"},
}

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	store, closeStore, err := openDocStore(ctx, cfg, logr, checks)
	if err != nil {
		logr.Fatal("failed to open document store", zap.String("driver", cfg.DocStore.Driver), zap.Error(err))
	}
	defer closeStore()

	var redisClient *redis.Client
	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
		cacheRepo = repository.NewCacheRepository(redisClient)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Auth.SchoolCacheTTL, logr, cacheRepo != nil)
	sessions := repository.NewSessionRepository(redisClient)

	signer := storage.NewURLSigner(cfg.Storage.URLSecret)
	blobs, err := storage.NewLocalBlobStore(cfg.Storage.BaseDir, cfg.Storage.MaxFileSizeBytes, signer, cfg.PublicBaseURL+cfg.APIPrefix)
	if err != nil {
		logr.Fatal("failed to init blob storage", zap.Error(err))
	}

	orphans := service.NewLogOrphanReporter(logr)
	if cfg.OrphanSweep.Enabled {
		sweeper := service.NewOrphanSweeper(store, blobs, logr)
		queue := jobs.NewQueue("orphan-sweep", sweeper.Handle, jobs.QueueConfig{
			Workers:    cfg.OrphanSweep.Workers,
			MaxRetries: cfg.OrphanSweep.Retries,
			RetryDelay: 5 * time.Second,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()
		orphans = service.NewQueueOrphanReporter(queue, logr)
	}

	validate := validator.New()
	workflow := service.NewAttachWorkflow(store, blobs, orphans, metricsSvc, logr)

	authSvc := service.NewAuthService(store, sessions, service.NewGoogleVerifier(cfg.Google.ClientID), nil, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		PasswordResetTTL:  cfg.Auth.PasswordResetTTL,
	})
	activationSvc := service.NewActivationService(store, logr)
	schoolSvc := service.NewSchoolService(store, blobs, cacheSvc, cfg.Auth.SchoolCacheTTL, validate, logr)
	teacherSvc := service.NewTeacherService(store, schoolSvc, blobs, validate, logr)
	classSvc := service.NewClassService(store, workflow, logr)
	timeOffSvc := service.NewTimeOffService(store, workflow, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	activationHandler := handler.NewActivationHandler(activationSvc)
	schoolHandler := handler.NewSchoolHandler(schoolSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc)
	classHandler := handler.NewClassHandler(classSvc)
	timeOffHandler := handler.NewTimeOffHandler(timeOffSvc, teacherSvc)
	fileHandler := handler.NewFileHandler(blobs, signer)
	liveHandler := handler.NewLiveHandler(store, metricsSvc, logr, cfg.Live.ClearOnResubscribe, corsmiddleware.Matcher(cfg.CORS.AllowedOrigins))
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requireAuth := internalmiddleware.JWT(authSvc)
	adminOnly := internalmiddleware.RequireAdmin()

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/google", authHandler.Google)
	auth.POST("/forgot-password", authHandler.ForgotPassword)
	auth.POST("/reset-password", authHandler.ResetPassword)
	auth.POST("/logout", requireAuth, authHandler.Logout)
	auth.GET("/me", requireAuth, authHandler.Me)
	auth.DELETE("/me", requireAuth, authHandler.DeleteAccount)

	activation := api.Group("/activation", internalmiddleware.OptionalJWT(authSvc))
	activation.POST("", activationHandler.Activate)
	activation.GET("", activationHandler.Status)

	api.GET("/files/*path", fileHandler.Download)

	schools := api.Group("/schools")
	schools.GET("", schoolHandler.List)
	schools.GET("/:schoolId", schoolHandler.Get)
	schools.POST("", requireAuth, adminOnly, schoolHandler.Create)
	schools.GET("/:schoolId/attachments", requireAuth, schoolHandler.Attachments)
	schools.GET("/:schoolId/attachments/:name", requireAuth, schoolHandler.OpenAttachment)

	classes := schools.Group("/:schoolId/classes", requireAuth)
	classes.GET("", classHandler.List)
	classes.POST("", classHandler.Create)
	classes.DELETE("", classHandler.DeleteByName)
	classes.GET("/:classId", classHandler.Get)
	classes.PATCH("/:classId", classHandler.UpdateTimes)
	classes.DELETE("/:classId", classHandler.Delete)

	timeOff := api.Group("/time-off", requireAuth)
	timeOff.POST("", timeOffHandler.Create)
	timeOff.POST("/bulk", timeOffHandler.CreateBulk)
	timeOff.GET("", timeOffHandler.List)
	timeOff.GET("/export", timeOffHandler.Export)
	timeOff.GET("/:id", timeOffHandler.Get)
	timeOff.DELETE("/:id", timeOffHandler.Delete)
	timeOff.POST("/:id/approve", timeOffHandler.Approve)
	timeOff.POST("/:id/cancel", timeOffHandler.Cancel)
	timeOff.POST("/:id/admin-approve", adminOnly, timeOffHandler.AdminApprove)
	timeOff.POST("/:id/admin-reject", adminOnly, timeOffHandler.AdminReject)

	teachers := api.Group("/teachers/me", requireAuth)
	teachers.POST("", teacherHandler.Onboard)
	teachers.GET("", teacherHandler.Me)
	teachers.PATCH("", teacherHandler.UpdateProfile)
	teachers.PUT("/push-token", teacherHandler.UpdatePushToken)

	api.GET("/live/*collection", requireAuth, liveHandler.Stream)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "docstore", cfg.DocStore.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// openDocStore connects the configured backend and registers its readiness
// check. The returned func releases the backend.
func openDocStore(ctx context.Context, cfg *config.Config, logr *zap.Logger, checks map[string]handler.ReadinessCheck) (docstore.Store, func(), error) {
	switch cfg.DocStore.Driver {
	case config.DriverPostgres:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store := docstore.NewPostgresStore(db, logr)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		listener := database.NewListener(cfg.Database, store.HandleListenerEvent)
		go func() {
			if err := store.Listen(ctx, listener); err != nil {
				logr.Error("document change feed stopped", zap.Error(err))
			}
		}()
		checks["postgres"] = pingPostgres(db)
		return store, func() {
			_ = listener.Close()
			_ = db.Close()
		}, nil

	case config.DriverMongo:
		store, err := docstore.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logr)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureIndexes(ctx, mongoIndexes); err != nil {
			logr.Warn("failed to ensure mongo indexes", zap.Error(err))
		}
		checks["mongo"] = store.Ping
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}, nil

	default:
		logr.Warn("using in-memory document store; data is lost on restart")
		return docstore.NewMemoryStore(), func() {}, nil
	}
}

func pingPostgres(db *sqlx.DB) handler.ReadinessCheck {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}
