package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"thumbforge/internal/clients"
	"thumbforge/internal/config"
	"thumbforge/internal/handler"
	"thumbforge/internal/logger"
	"thumbforge/internal/messaging"
	"thumbforge/internal/refinement"
)

func main() {
	// --- 1. Загрузка конфигурации ---
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- 2. Инициализация логгера ---
	appLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	zap.ReplaceGlobals(appLogger)
	appLogger.Info("Starting API Gateway...", zap.String("env", cfg.Env))

	// --- 3. Клиент хранилища задач (внутренний API воркера) ---
	jobStore := clients.NewHTTPJobStoreClient(cfg.JobStoreURL, appLogger)
	appLogger.Info("Job store client initialized", zap.String("url", cfg.JobStoreURL))

	// --- 4. RabbitMQ для wake-сигналов ---
	// Wake-сигнал best-effort: без RabbitMQ шлюз работает, воркер
	// просыпается только по таймеру.
	var wakePublisher messaging.Publisher
	rabbitConn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		appLogger.Warn("Failed to connect to RabbitMQ, wake signals disabled", zap.Error(err))
	} else {
		defer rabbitConn.Close()
		wakePublisher, err = messaging.NewRabbitMQPublisher(rabbitConn, cfg.WakeQueue, appLogger)
		if err != nil {
			appLogger.Warn("Failed to create wake publisher, wake signals disabled", zap.Error(err))
			wakePublisher = nil
		} else {
			defer wakePublisher.Close()
			appLogger.Info("Wake publisher initialized", zap.String("queue", cfg.WakeQueue))
		}
	}

	// --- 5. Redis для историй правок ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		appLogger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	pingCancel()
	appLogger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	historyStore := refinement.NewHistoryStore(redisClient, cfg.RefinementMaxHistories, appLogger)

	// --- 6. Настройка Gin ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(handler.ZapLoggingMiddleware(appLogger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	corsConfig := cors.DefaultConfig()
	if allowedOrigins := cfg.GetAllowedOrigins(); len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Session-ID"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// --- 7. Регистрация маршрутов ---
	jobsHandler := handler.NewJobsHandler(jobStore, wakePublisher, cfg.EnqueueBudget, cfg.StatusBudget, appLogger)
	jobsHandler.RegisterRoutes(router)

	refinementHandler := handler.NewRefinementHandler(historyStore, appLogger)
	refinementHandler.RegisterRoutes(router)

	// --- 8. Запуск HTTP сервера ---
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		appLogger.Info("API Gateway listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// --- 9. Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down API Gateway...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	appLogger.Info("API Gateway stopped")
}
