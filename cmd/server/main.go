package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-gin-event-registration/config"
	"go-gin-event-registration/internal/cache"
	"go-gin-event-registration/internal/database"
	"go-gin-event-registration/internal/handler"
	"go-gin-event-registration/internal/queue"
	"go-gin-event-registration/internal/repository"
	"go-gin-event-registration/internal/service"
	"go-gin-event-registration/internal/store"
	"go-gin-event-registration/internal/store/memory"
	"go-gin-event-registration/internal/store/redisstore"
	"go-gin-event-registration/internal/txn"
	"go-gin-event-registration/internal/worker"
	"go-gin-event-registration/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	log := logger.WithComponent("main")
	defer logger.Sync()

	// .env 不存在時直接使用環境變數
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warn("Invalid log level, keep default", zap.String("level", cfg.Log.Level), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Store.Backend == config.StoreBackendRedis || cfg.Queue.Backend == config.QueueBackendRedis {
		rdb, err = database.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal("Failed to initialize redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	var docStore store.Store
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pgStore, pool, err := database.InitDocumentStore(ctx, &cfg.Database)
		if err != nil {
			log.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer pool.Close()
		docStore = pgStore
	case config.StoreBackendRedis:
		docStore = redisstore.New(rdb, nil)
	default:
		log.Warn("Using in-memory store, data is lost on restart")
		docStore = memory.New()
	}

	var notifications queue.NotificationQueue
	if cfg.Queue.Backend == config.QueueBackendRedis {
		notifications, err = queue.NewRedisStreamNotificationQueue(ctx, rdb, cfg.Queue.ConsumerID, &queue.RedisStreamQueueConfig{
			ClaimMinIdleTime:   cfg.Queue.ClaimMinIdleTime,
			MaxRetryCount:      cfg.Queue.MaxRetryCount,
			ReadGroupBlockTime: cfg.Queue.ReadGroupBlockTime,
			BatchSize:          cfg.Queue.BatchSize,
			MaxLen:             cfg.Queue.StreamMaxLen,
		})
		if err != nil {
			log.Fatal("Failed to initialize notification queue", zap.Error(err))
		}
	} else {
		notifications = queue.NewNotificationQueue(cfg.Queue.BufferSize)
	}

	var availability cache.SeatAvailabilityCache
	if rdb != nil {
		availability = cache.NewRedisSeatAvailabilityCache(rdb, cfg.Cache.AvailabilityTTL)
	}

	coordinator := txn.NewCoordinator(docStore, txn.PolicyFromConfig(cfg.Transaction))
	eventRepo := repository.NewEventRepository(docStore)
	attendeeRepo := repository.NewAttendeeRepository(docStore)

	eventService := service.NewEventService(coordinator, eventRepo, availability, notifications)
	registrationService := service.NewRegistrationService(coordinator, eventRepo, attendeeRepo, notifications)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	workerDone, err := worker.NewAvailabilityWorker(eventService, notifications).Start(workerCtx)
	if err != nil {
		log.Fatal("Failed to start availability worker", zap.Error(err))
	}

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), handler.RequestLogger(), handler.RequestTimeout(cfg.Server.RequestTimeout))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	handler.NewEventHandler(eventService).RegisterRoutes(router)
	handler.NewAttendeeHandler(registrationService).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("Server listening", zap.String("address", cfg.Server.Address), zap.String("store", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	cancelWorker()
	select {
	case <-workerDone:
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Warn("Availability worker did not stop in time")
	}

	log.Info("Server exited")
}
