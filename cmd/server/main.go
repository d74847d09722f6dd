package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flowtale/internal/config"
	"flowtale/internal/database"
	"flowtale/internal/flows"
	"flowtale/internal/handler"
	"flowtale/internal/logger"
	"flowtale/internal/messaging"
	"flowtale/internal/middleware"
	"flowtale/internal/repository"
	"flowtale/internal/service"
	"flowtale/pkg/ai"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogOutput,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	log.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("storage", cfg.StorageBackend),
		zap.String("aiClient", cfg.AIClientType),
		zap.String("aiModel", cfg.AIModel),
	)

	// Подключения при старте ограничены по времени, дальше контекст не используется
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStartup()

	aiClient, err := ai.NewAIClient(ai.Config{
		ClientType: cfg.AIClientType,
		APIKey:     cfg.AIAPIKey,
		BaseURL:    cfg.AIBaseURL,
		Model:      cfg.AIModel,
		Timeout:    cfg.AITimeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to create AI client", zap.Error(err))
	}

	temperature := cfg.AITemperature
	maxTokens := cfg.AIMaxTokens
	storyFlows, err := flows.New(aiClient, ai.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize story flows", zap.Error(err))
	}

	repo, redisClient, closeRepo, err := setupRepository(startupCtx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize story repository", zap.Error(err))
	}
	defer closeRepo()

	publisher, err := setupPublisher(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize story event publisher", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("Error closing story event publisher", zap.Error(err))
		}
	}()

	storyService := service.NewStoryService(storyFlows, repo, publisher, log)
	storyHandler := handler.NewStoryHandler(storyService, log)

	router := setupRouter(cfg, log)
	var generation []gin.HandlerFunc
	if cfg.RateLimitRequests > 0 {
		log.Info("Rate limiting generation routes",
			zap.Int("requests", cfg.RateLimitRequests),
			zap.Duration("window", cfg.RateLimitWindow),
			zap.Bool("sharedStore", redisClient != nil),
		)
		generation = append(generation, middleware.NewRateLimiter(middleware.RateLimitConfig{
			Requests: uint(cfg.RateLimitRequests),
			Window:   cfg.RateLimitWindow,
		}, redisClient, log))
	}
	storyHandler.RegisterRoutes(router, generation...)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	log.Info("Server exiting")
}

func setupRouter(cfg *config.Config, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(middleware.GinZapLogger(log))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)
	return router
}

// setupRepository выбирает хранилище по STORAGE_BACKEND. Возвращаемая функция освобождает ресурсы.
// Клиент Redis возвращается только для бэкенда redis, его же использует rate limiter.
func setupRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.StoryRepository, *redis.Client, func(), error) {
	retry := database.Retry{Attempts: cfg.ConnectRetries, Delay: cfg.ConnectInterval}

	switch strings.ToLower(cfg.StorageBackend) {
	case repository.BackendPostgres:
		log.Info("Using PostgreSQL story storage", zap.String("dsn", cfg.MaskedDSN()))
		pool, err := database.ConnectPostgres(ctx, database.PostgresOptions{
			DSN:         cfg.GetDSN(),
			MaxConns:    cfg.DBMaxConns,
			IdleTimeout: cfg.DBIdleTimeout,
			Retry:       retry,
		}, log)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.DBAutoMigrate {
			if err := database.ApplyMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
			log.Info("Database migrations applied")
		}
		return repository.NewPostgresStoryRepository(pool, log), nil, pool.Close, nil

	case repository.BackendRedis:
		log.Info("Using Redis story storage", zap.String("address", cfg.RedisAddr), zap.Duration("ttl", cfg.RedisStoryTTL))
		client, err := database.ConnectRedis(ctx, database.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Retry:    retry,
		}, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return repository.NewRedisStoryRepository(client, cfg.RedisStoryTTL, log), client, closeWithLog(client, log), nil

	default:
		log.Warn("Using in-memory story storage, stories are lost on restart")
		return repository.NewMemoryStoryRepository(log), nil, func() {}, nil
	}
}

func setupPublisher(cfg *config.Config, log *zap.Logger) (messaging.EventPublisher, error) {
	if cfg.RabbitMQURL == "" {
		log.Info("RABBITMQ_URL is not set, story events are not published")
		return messaging.NoopPublisher{}, nil
	}
	conn, err := messaging.ConnectRabbitMQ(cfg.RabbitMQURL, cfg.ConnectRetries, cfg.ConnectInterval, log)
	if err != nil {
		return nil, err
	}
	publisher, err := messaging.NewRabbitMQPublisher(conn, cfg.StoryEventsQueue, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return publisher, nil
}

func closeWithLog(c io.Closer, log *zap.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Error("Error closing connection", zap.Error(err))
		}
	}
}
