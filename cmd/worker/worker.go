package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"material-indexing-platform/internal/app"
	"material-indexing-platform/internal/config"
	"material-indexing-platform/internal/logger"
	"material-indexing-platform/internal/queue"
	"material-indexing-platform/internal/scheduler"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	deps, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to start worker", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		logger.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	// Extraction shells out to pdftotext and soffice, so concurrency stays low
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "task", task.Type(), "error", err)
			}),
			Logger: newAsynqLogger(),
		},
	)

	processor := queue.NewTaskProcessor(deps.Indexer)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	cron := scheduler.NewScheduler()

	// Periodic sweep of failed and pending materials
	if cfg.ReprocessCron != "" {
		err := cron.ScheduleCron("reprocess-failed", cfg.ReprocessCron, func(ctx context.Context) error {
			return deps.Enqueuer.EnqueueSweep(ctx)
		})
		if err != nil {
			logger.Error("Invalid REPROCESS_CRON", "expression", cfg.ReprocessCron, "error", err)
			os.Exit(1)
		}
	}

	// Materials still processing after two task timeouts lost their worker
	err = cron.ScheduleInterval("recover-stuck", 15*time.Minute, func(ctx context.Context) error {
		_, err := deps.Indexer.RecoverStuckMaterials(ctx, 2*queue.ProcessingTimeout)
		return err
	})
	if err != nil {
		logger.Error("Failed to schedule stuck material recovery", "error", err)
		os.Exit(1)
	}
	cron.Start()
	defer cron.Stop()

	logger.Info("Starting Asynq worker",
		"concurrency", cfg.WorkerConcurrency,
		"queues", "critical(6), default(3), low(1)",
		"reprocess_cron", cfg.ReprocessCron)

	if err := server.Start(mux); err != nil {
		logger.Error("Failed to start worker", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	server.Shutdown()
}
