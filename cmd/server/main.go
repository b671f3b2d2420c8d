package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"schednotify/internal/api"
	"schednotify/internal/cache"
	"schednotify/internal/event"
	"schednotify/internal/repository"
	"schednotify/internal/service"
	"schednotify/internal/sse"
	"schednotify/pkg/config"
	"schednotify/pkg/db"
	"schednotify/pkg/logger"
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

	// 2. Init DB
	dbConn, err := db.NewConnection(cfg.DB, zlog)
	if err != nil {
		zlog.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// 3. Init Redis (cache + event transport)
	rdb := redisclient.NewClient(cfg.Redis)
	cacheStore := cache.NewStore(rdb, zlog)

	// 4. Init event bus and SSE fan-out
	bus := event.NewBus(rdb, zlog)
	manager := sse.NewManager(zlog)
	sse.Bind(bus, manager)
	bus.StartListening()
	defer bus.StopListening()

	// 5. Init repositories and reconciler
	notificationRepo := repository.NewNotificationRepository(dbConn)
	scheduleRepo := repository.NewScheduleRepository(dbConn)
	notificationService := service.NewNotificationService(
		notificationRepo,
		scheduleRepo,
		cacheStore,
		bus,
		zlog,
	).WithPendingTTL(time.Duration(cfg.Notify.PendingTTLSeconds) * time.Second)

	// 6. Periodic reconciliation sweep
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := service.NewSweeper(
		notificationService,
		time.Duration(cfg.Notify.SweepIntervalSeconds)*time.Second,
		zlog,
	)
	go sweeper.Start(ctx)

	// 7. Init handlers and router
	streamHandler := api.NewStreamHandler(
		manager,
		time.Duration(cfg.Notify.HeartbeatSeconds)*time.Second,
		zlog,
	)
	notificationHandler := api.NewNotificationHandler(notificationService, zlog)
	diagnosticsHandler := api.NewDiagnosticsHandler(bus, manager)

	router := api.NewRouter(streamHandler, notificationHandler, diagnosticsHandler, dbConn, cfg.JWT.Secret)

	// 8. Run server
	if err := router.Run(cfg.Server.Port); err != nil {
		zlog.Fatal("server start failed", zap.Error(err))
	}
}
