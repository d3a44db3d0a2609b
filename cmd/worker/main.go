// Standalone reaper daemon for deployments that keep background
// sweeps off the API instances.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/talenthall/backend/config"
	"github.com/talenthall/backend/internal/meetings"
	"github.com/talenthall/backend/internal/queue"
	"github.com/talenthall/backend/internal/realtime"
	"github.com/talenthall/backend/internal/worker"
	"github.com/talenthall/backend/pkg/database"
	pkgredis "github.com/talenthall/backend/pkg/redis"
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

	// The worker publishes reclamations through Redis so API instances
	// fan them out to connected clients. Without Redis the sweep still
	// runs, silently.
	var bc realtime.Broadcaster = realtime.NopBroadcaster{}
	if redisClient, err := pkgredis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger); err != nil {
		logger.Warn("redis unavailable, reclamation events not broadcast", zap.Error(err))
	} else {
		defer redisClient.Close()
		ps := realtime.NewRedisPubSub(redisClient.Client, logger)
		bc = realtime.NewPublishOnlyBroadcaster(ps, logger)
	}

	queueRepo := queue.NewRepository(pool)
	meetingRepo := meetings.NewRepository(pool)

	reaper := worker.NewReaper(queueRepo, meetingRepo, bc, cfg.Queue, logger)
	reaper.Run(ctx)
}
