// Command server boots the optimization engine's HTTP surface.
// Bootstrap order (config -> logger -> db -> redis -> services ->
// router -> graceful shutdown) is grounded on order_service/main.go.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/iaros/optimization-engine/internal/api"
	"github.com/iaros/optimization-engine/internal/assignment"
	"github.com/iaros/optimization-engine/internal/attribution"
	"github.com/iaros/optimization-engine/internal/bayes"
	"github.com/iaros/optimization-engine/internal/catalog"
	"github.com/iaros/optimization-engine/internal/config"
	"github.com/iaros/optimization-engine/internal/lifecycle"
	"github.com/iaros/optimization-engine/internal/logging"
	"github.com/iaros/optimization-engine/internal/queue"
	"github.com/iaros/optimization-engine/internal/rng"
	"github.com/iaros/optimization-engine/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Environment: cfg.Environment, ServiceName: "optimization-engine"})
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	db, err := store.Open(store.Options{
		DSN:             cfg.DSN(),
		MaxOpenConns:    cfg.MaxConnections,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database initialized")

	redisClient := initRedis(cfg.RedisURL, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	optimizationStore := store.NewOptimizationStore(db)
	assignmentStore := store.NewAssignmentStore(db)
	eventStore := store.NewEventStore(db)
	productStore := store.NewProductStore(db)
	shopPurger := store.NewShopPurger(db)

	source, err := rng.NewCryptoSource()
	if err != nil {
		logger.Fatal("failed to seed production RNG", zap.Error(err))
	}

	catalogClient := catalog.NewHTTPClient(catalog.DefaultConfig(os.Getenv("CATALOG_BASE_URL")), logger)

	jobQueue := queue.New(1000, cfg.WorkerPoolSize, logger)
	ctx, cancelQueue := context.WithCancel(context.Background())
	jobQueue.Start(ctx)
	defer func() {
		cancelQueue()
		jobQueue.Stop()
	}()

	bayesConfig := bayes.DefaultConfig()
	bayesConfig.MinSampleSize = cfg.MinSampleSize

	lifecycleController := lifecycle.New(optimizationStore, productStore, eventStore, catalogClient, bayesConfig, source, logger)
	assignmentService := assignment.New(optimizationStore, assignmentStore, eventStore, redisClient, source, logger)
	attributionPipeline := attribution.New(db, optimizationStore, eventStore, assignmentStore, jobQueue, lifecycleController, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	optimizationController := api.NewOptimizationController(optimizationStore, assignmentService, logger)
	webhookController := api.NewWebhookController([]byte(cfg.WebhookSecret), attributionPipeline, shopPurger, logger)
	router := api.NewRouter(optimizationController, webhookController, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("port", cfg.ServerPort), zap.String("environment", cfg.Environment))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server shutdown complete")
}

func initRedis(url string, logger *zap.Logger) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("failed to parse redis URL, sticky-assignment cache disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("failed to connect to redis, sticky-assignment cache disabled", zap.Error(err))
		return nil
	}
	logger.Info("redis initialized")
	return client
}
