package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"eduvideo-server/internal/agents"
	"eduvideo-server/internal/compositor"
	"eduvideo-server/internal/config"
	"eduvideo-server/internal/handler"
	"eduvideo-server/internal/healing"
	"eduvideo-server/internal/logger"
	"eduvideo-server/internal/orchestrator"
	"eduvideo-server/internal/progress"
	"eduvideo-server/internal/repository"
	"eduvideo-server/internal/storage"
	"eduvideo-server/internal/taskrunner"
	"eduvideo-server/internal/validator"
	"eduvideo-server/migrations"
	"eduvideo-server/pkg/migration"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск EduVideo Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	// Подключение к PostgreSQL
	dbPool, err := setupDatabase(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()
	zapLogger.Info("Успешное подключение к PostgreSQL")

	// Миграции схемы
	migrator := migration.NewMigrator(migrations.FS, ".", dbPool)
	if err := migrator.Up(context.Background()); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	// Подключение к RabbitMQ
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Успешное подключение к RabbitMQ")

	// Подключение к Redis (кэш последнего события прогресса)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zapLogger.Info("Успешное подключение к Redis")

	// Хранилище ассетов
	store, err := storage.NewLocalStore(zapLogger, cfg.AssetSavePath, cfg.AssetPublicBaseURL, cfg.AssetURLTTL, cfg.JWTSecret)
	if err != nil {
		zapLogger.Fatal("Не удалось инициализировать хранилище ассетов", zap.Error(err))
	}

	// Репозитории
	repos := orchestrator.Repos{
		Sessions:    repository.NewPgSessionRepository(dbPool, zapLogger),
		Segments:    repository.NewPgSegmentRepository(dbPool, zapLogger),
		Assets:      repository.NewPgAssetRepository(dbPool, zapLogger),
		Validations: repository.NewPgValidationRepository(dbPool, zapLogger),
		Costs:       repository.NewPgCostRepository(dbPool, zapLogger),
		CompLog:     repository.NewPgCompositionLogRepository(dbPool, zapLogger),
	}

	// Агенты этапов
	aiClient, err := buildAIClient(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать AI клиент", zap.Error(err))
	}
	narrativeAgent := agents.NewNarrativeAgent(aiClient, cfg.AIMaxAttempts, cfg.AIBaseRetryDelay, zapLogger)
	visualAgent := agents.NewVisualAgent(buildImageBackend(cfg), store, cfg.ImageTimeout, zapLogger)
	audioAgent := agents.NewTTSAgent(cfg.AIAPIKey, cfg.AIBaseURL, cfg.TTSModel, cfg.TTSVoice, store, cfg.TTSTimeout, zapLogger)
	visionValidator := validator.NewVisionValidator(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIVisionModel, store, cfg.AITimeout, zapLogger)

	// Движок самовосстановления
	slides := healing.NewTextSlideGenerator(store, zapLogger)
	healer := healing.NewEngine(visualAgent, visionValidator, repos.Assets, repos.CompLog, slides, zapLogger)

	// Композитор (внешний рендер-сервис)
	comp := compositor.NewHTTPCompositor(cfg.CompositorURL, cfg.CompositorTimeout, zapLogger)

	// Инфраструктура прогресса
	publisher, err := progress.NewRabbitMQPublisher(rabbitConn, cfg.ProgressQueueName, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать паблишер прогресса", zap.Error(err))
	}
	hub := progress.NewHub(zapLogger)
	eventCache := progress.NewRedisEventCache(redisClient, cfg.ProgressTTL, zapLogger)
	consumer := progress.NewConsumer(rabbitConn, hub, eventCache, cfg.ProgressQueueName, zapLogger)
	go func() {
		if err := consumer.StartConsuming(); err != nil {
			zapLogger.Error("Консьюмер прогресса завершился с ошибкой", zap.Error(err))
		}
	}()

	// Раннер и оркестратор
	runner := taskrunner.New(taskrunner.Config{MaxActiveRuns: cfg.MaxActiveSessions})
	orch := orchestrator.New(
		orchestrator.Config{
			VariantsPerSegment: cfg.VariantsPerSeg,
			VideoFPS:           cfg.VideoFPS,
			VideoResolution:    cfg.VideoResolution,
		},
		repos,
		narrativeAgent, visualAgent, audioAgent, visionValidator,
		healer, comp, store, publisher, runner, zapLogger,
	)

	// Периодическая уборка завершенных запусков
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			runner.CleanupRuns(time.Hour)
		}
	}()

	// Настройка Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(handler.ZapLoggingMiddleware(zapLogger))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := handler.AuthMiddleware(cfg.JWTSecret, zapLogger)
	sessionHandler := handler.NewSessionHandler(orch, eventCache, zapLogger)
	sessionHandler.RegisterRoutes(router, authMiddleware)

	wsHandler := handler.NewWSHandler(hub, eventCache, orch, zapLogger)
	router.GET("/ws", authMiddleware, wsHandler.ServeWS)

	assetHandler := handler.NewAssetHandler(store, cfg.JWTSecret, zapLogger)
	assetHandler.RegisterRoutes(router)

	// Запуск HTTP сервера
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка остановки HTTP сервера", zap.Error(err))
	}
	consumer.Stop()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка остановки раннера", zap.Error(err))
	}
	zapLogger.Info("Server stopped")
}

// setupDatabase создает пул соединений PostgreSQL.
func setupDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула соединений: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка проверки соединения с БД: %w", err)
	}
	return pool, nil
}

// connectRabbitMQ подключается к RabbitMQ с ретраями.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("RabbitMQ connection attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после ретраев: %w", err)
}

// buildAIClient выбирает бэкенд текстовой генерации.
func buildAIClient(cfg *config.Config, logger *zap.Logger) (agents.AIClient, error) {
	switch cfg.AIBackend {
	case "ollama":
		return agents.NewOllamaClient(cfg.OllamaHost, cfg.AIModel, logger)
	default:
		return agents.NewOpenAIClient(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, cfg.AITimeout, logger), nil
	}
}

// buildImageBackend выбирает бэкенд генерации изображений.
func buildImageBackend(cfg *config.Config) agents.VisualBackend {
	switch cfg.ImageBackend {
	case "sana":
		return agents.NewSanaImageBackend(cfg.SanaServerURL, "9:16", cfg.ImageTimeout)
	default:
		return agents.NewOpenAIImageBackend(cfg.AIAPIKey, cfg.AIBaseURL, cfg.ImageModel, cfg.ImageSize)
	}
}
