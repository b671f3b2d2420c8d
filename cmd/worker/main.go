package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"schednotify/internal/cache"
	"schednotify/internal/event"
	"schednotify/internal/repository"
	"schednotify/internal/service"
	"schednotify/internal/taskrunner"
	"schednotify/pkg/config"
	"schednotify/pkg/db"
	"schednotify/pkg/logger"
	"schednotify/pkg/mq"
	"schednotify/pkg/redisclient"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.NewLogger()
	defer zlog.Sync()

	// 2. Init DB and Redis
	dbConn, err := db.NewConnection(cfg.DB, zlog)
	if err != nil {
		zlog.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redisclient.NewClient(cfg.Redis)
	cacheStore := cache.NewStore(rdb, zlog)

	// 3. Event bus (publish only; the API process runs the listener)
	bus := event.NewBus(rdb, zlog)

	// 4. Reconciler
	notificationRepo := repository.NewNotificationRepository(dbConn)
	scheduleRepo := repository.NewScheduleRepository(dbConn)
	notificationService := service.NewNotificationService(
		notificationRepo,
		scheduleRepo,
		cacheStore,
		bus,
		zlog,
	)

	// 5. Job runner + consumer with bounded retries
	runner := taskrunner.NewRunner(notificationService, scheduleRepo, cacheStore, bus, zlog)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, taskrunner.QueueName, taskrunner.RoutingKey, zlog)
	if err != nil {
		zlog.Fatal("failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()

	consumer.SetHandler(runner.Handle)
	consumer.SetDiscardHandler(runner.Discard)
	consumer.SetRetryPolicy(mq.NewRetryCounter(rdb, time.Hour), 5, 2*time.Second)
	consumer.MessageID = taskrunner.JobID

	// 6. Recurring sweep jobs
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		zlog.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler := taskrunner.NewScheduler(
		publisher,
		time.Duration(cfg.Notify.SweepIntervalSeconds)*time.Second,
		zlog,
	)
	go scheduler.Start(ctx)

	// 7. Consume (blocks)
	if err := consumer.StartConsuming(); err != nil {
		zlog.Fatal("consumer start failed", zap.Error(err))
	}
}
