package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Retry - параметры повторных попыток подключения при старте.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

func (r Retry) normalized() Retry {
	if r.Attempts <= 0 {
		r.Attempts = 1
	}
	return r
}

// PostgresOptions - параметры пула PostgreSQL.
type PostgresOptions struct {
	DSN         string
	MaxConns    int
	IdleTimeout time.Duration
	Retry       Retry
}

// ConnectPostgres создает пул pgx и проверяет соединение, повторяя попытки.
func ConnectPostgres(ctx context.Context, opts PostgresOptions, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.IdleTimeout > 0 {
		poolConfig.MaxConnIdleTime = opts.IdleTimeout
	}

	retry := opts.Retry.normalized()
	logger.Info("Attempting to connect to PostgreSQL",
		zap.Int("max_retries", retry.Attempts), zap.Duration("retry_delay", retry.Delay))

	var lastErr error
	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				logger.Info("Successfully connected and pinged PostgreSQL", zap.Int("attempt", attempt))
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		logger.Warn("PostgreSQL is not ready, retrying...",
			zap.Int("attempt", attempt), zap.Int("max_retries", retry.Attempts), zap.Error(err))
		if err := sleepCtx(ctx, retry.Delay, attempt < retry.Attempts); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", retry.Attempts, lastErr)
}

// RedisOptions - параметры клиента Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Retry    Retry
}

// ConnectRedis создает клиент Redis и проверяет его через PING, повторяя попытки.
func ConnectRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*redis.Client, error) {
	redisOpts := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	retry := opts.Retry.normalized()
	logger.Info("Attempting to connect and ping Redis",
		zap.String("address", redisOpts.Addr), zap.Int("db", redisOpts.DB), zap.Int("max_retries", retry.Attempts))

	var lastErr error
	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		client := redis.NewClient(redisOpts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return client, nil
		}
		_ = client.Close()
		lastErr = err
		logger.Warn("Redis is not ready, retrying...",
			zap.Int("attempt", attempt), zap.Int("max_retries", retry.Attempts), zap.Error(err))
		if err := sleepCtx(ctx, retry.Delay, attempt < retry.Attempts); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", retry.Attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration, wait bool) error {
	if !wait || d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
