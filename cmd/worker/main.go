package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"thumbforge/internal/config"
	"thumbforge/internal/database"
	"thumbforge/internal/handler"
	"thumbforge/internal/logger"
	"thumbforge/internal/messaging"
	"thumbforge/internal/provider"
	"thumbforge/internal/repository"
	"thumbforge/internal/storage"
	"thumbforge/internal/worker"
)

const metricsPushInterval = 15 * time.Second

func main() {
	// --- 1. Загрузка конфигурации ---
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- 2. Инициализация логгера ---
	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	zap.ReplaceGlobals(appLogger)
	appLogger.Info("Starting Generation Worker...", zap.String("env", cfg.AppEnv))

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// --- 3. PostgreSQL и миграции ---
	dbPool, err := database.NewPgxPool(rootCtx, cfg.DB, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()

	if err := database.RunMigrations(cfg.DB, cfg.MigrationsPath, appLogger); err != nil {
		appLogger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// --- 4. Хранилище изображений и провайдер ---
	fileStore, err := storage.NewFileStore(cfg.Storage, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize file store", zap.Error(err))
	}

	imageProvider, err := provider.New(cfg.Provider, fileStore, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize image provider", zap.Error(err))
	}
	appLogger.Info("Image provider initialized",
		zap.String("provider", cfg.Provider.Name), zap.String("model", cfg.Provider.Model))

	// --- 5. Метрики ---
	if err := worker.InitMetricsPusher(cfg.PushGatewayURL); err != nil {
		// Воркер полезен и без метрик.
		appLogger.Warn("Failed to initialize metrics pusher", zap.Error(err))
	}
	defer worker.CleanupMetrics()
	worker.StartMetricsPusher(rootCtx, metricsPushInterval)

	// --- 6. Репозиторий, исполнитель, цикл захвата ---
	jobRepo := repository.NewPgJobRepository(dbPool, appLogger)
	executor := worker.NewExecutor(jobRepo, imageProvider, fileStore, cfg.Provider.APIKey, appLogger)
	claimer := worker.NewClaimer(jobRepo, executor, appLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		claimer.Run(rootCtx, cfg.ClaimInterval)
	}()

	// --- 7. Wake-консьюмер RabbitMQ ---
	// Без RabbitMQ воркер деградирует до чистого опроса по таймеру.
	rabbitConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		appLogger.Warn("Failed to connect to RabbitMQ, wake signals disabled", zap.Error(err))
	} else {
		defer rabbitConn.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			messaging.StartWakeConsumer(rootCtx, rabbitConn, cfg.RabbitMQ, appLogger, func(ctx context.Context, payload messaging.JobQueuedPayload) {
				claimer.Wake()
			})
		}()
	}

	// --- 8. Внутренний HTTP API хранилища задач ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(handler.ZapLoggingMiddleware(appLogger))
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	storeHandler := handler.NewStoreHandler(jobRepo, appLogger)
	storeHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.InternalPort,
		Handler: router,
	}

	go func() {
		appLogger.Info("Internal job store API listening", zap.String("port", cfg.InternalPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start internal HTTP server", zap.Error(err))
		}
	}()

	appLogger.Info("Generation Worker started successfully")

	// --- 9. Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down Generation Worker...")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Failed to shutdown internal HTTP server gracefully", zap.Error(err))
	}

	appLogger.Info("Waiting for background tasks to finish...")
	wg.Wait()

	appLogger.Info("Generation Worker shut down gracefully")
}
