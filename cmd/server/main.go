package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/talenthall/backend/config"
	"github.com/talenthall/backend/internal/attachments"
	"github.com/talenthall/backend/internal/auth"
	"github.com/talenthall/backend/internal/callprovider"
	"github.com/talenthall/backend/internal/meetings"
	"github.com/talenthall/backend/internal/middleware"
	"github.com/talenthall/backend/internal/queue"
	"github.com/talenthall/backend/internal/realtime"
	"github.com/talenthall/backend/internal/worker"
	"github.com/talenthall/backend/pkg/database"
	pkgredis "github.com/talenthall/backend/pkg/redis"
	"github.com/talenthall/backend/pkg/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis is optional: without it the hub still delivers locally, so a
	// single-instance deployment works with no broker.
	var pub realtime.RedisPublisher
	var sub realtime.RedisSubscriber
	redisClient, err := pkgredis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, realtime limited to this instance", zap.Error(err))
	} else {
		defer redisClient.Close()
		ps := realtime.NewRedisPubSub(redisClient.Client, logger)
		pub, sub = ps, ps
	}

	hub := realtime.NewHub(logger, pub, sub)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	queueRepo := queue.NewRepository(pool)
	meetingRepo := meetings.NewRepository(pool)

	queueService := queue.NewService(queueRepo, meetingRepo, meetingRepo, hub, cfg.Queue, logger)
	meetingService := meetings.NewService(meetingRepo, hub, logger)
	queueService.SetMeetingRecorder(meetingService)
	meetingService.SetQueueCoordinator(queueService)

	callTokens := callprovider.NewTokenService(cfg.CallProvider)

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AttachmentsBucket:    cfg.AWS.AttachmentsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create s3 client", zap.Error(err))
		}
	} else {
		logger.Warn("AWS region not configured, attachments disabled")
	}

	reaper := worker.NewReaper(queueRepo, meetingRepo, hub, cfg.Queue, logger)
	go reaper.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		// Redis is optional; a broken broker degrades realtime fanout
		// but the API keeps serving.
		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusOK, gin.H{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", realtime.ServeWs(hub, logger, func(token string) (uuid.UUID, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.Role, nil
	}))

	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))

	queue.NewHandler(queueService, logger).RegisterRoutes(api)
	meetings.NewHandler(meetingService, logger).RegisterRoutes(api)
	callprovider.NewHandler(callTokens, meetingService).RegisterRoutes(api)
	if s3Client != nil {
		attachments.NewHandler(meetingService, meetingRepo, s3Client, logger).RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
