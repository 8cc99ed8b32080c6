// Package app wires the shared dependencies of the API server and the worker.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"material-indexing-platform/internal/config"
	"material-indexing-platform/internal/extraction"
	"material-indexing-platform/internal/logger"
	"material-indexing-platform/internal/queue"
	"material-indexing-platform/internal/storage"
	"material-indexing-platform/internal/telemetry"
	"material-indexing-platform/services"
)

type App struct {
	Config   *config.Config
	Mongo    *mongo.Client
	DB       *mongo.Database
	Redis    *redis.Client // nil when Redis was unreachable at startup
	Objects  storage.ObjectStore
	Metrics  *telemetry.Metrics
	Queue    *asynq.Client
	Enqueuer *queue.AsynqEnqueuer
	Indexer  *services.IndexingService

	shutdownTracer func()
}

// New connects MongoDB (required), Redis (optional) and object storage, and
// builds the indexing service
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, shutdownTracer: func() {}}

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer(cfg.ServiceName, cfg.OTelEndpoint, 1.0)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		} else {
			a.shutdownTracer = shutdown
		}
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}
	a.Metrics = metrics

	a.Mongo, err = config.ConnectMongoDB(cfg)
	if err != nil {
		return nil, err
	}
	a.DB = a.Mongo.Database(cfg.DBName)

	if rdb, err := config.NewRedisClient(cfg); err != nil {
		logger.Warn("Redis unavailable; chunk cache and shared rate limits disabled", "error", err)
	} else {
		a.Redis = rdb
	}

	a.Objects, err = storage.New(ctx, cfg, metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open object storage: %w", err)
	}

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue = asynq.NewClient(redisOpt)
	a.Enqueuer = queue.NewAsynqEnqueuer(a.Queue)

	extractor := extraction.NewManagerFromConfig(cfg, a.Objects, extraction.WithMetrics(metrics))

	opts := []services.IndexingOption{
		services.WithIndexingMetrics(metrics),
		services.WithObjectStore(a.Objects),
	}
	if cfg.ChunkCacheEnabled && a.Redis != nil {
		opts = append(opts, services.WithChunkCache(services.NewRedisChunkCache(a.Redis, cfg.ChunkCacheTTL)))
	}
	a.Indexer = services.NewIndexingService(
		services.NewMongoMaterialStore(a.DB, metrics),
		extractor,
		a.Enqueuer,
		opts...,
	)

	return a, nil
}

// PingMongo and PingRedis back the readiness checks
func (a *App) PingMongo(ctx context.Context) error {
	return a.Mongo.Ping(ctx, nil)
}

func (a *App) PingRedis(ctx context.Context) error {
	if a.Redis == nil {
		return fmt.Errorf("redis not connected")
	}
	return a.Redis.Ping(ctx).Err()
}

// Close releases every connection New opened
func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	if c, ok := a.Objects.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close object storage", "error", err)
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Mongo.Disconnect(ctx)
	}
	a.shutdownTracer()
}
