package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// secretsDir - стандартный путь Docker Secrets. Переменная для тестов.
var secretsDir = "/run/secrets"

// Config содержит конфигурацию сервиса историй
type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	// Логирование
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	LogOutput   string `envconfig:"LOG_OUTPUT" default:"stdout"`

	AllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	ReadTimeout    time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	// Генерация длится долго, поэтому таймаут записи больше AI_TIMEOUT
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"150s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`

	// Лимит запросов к генерации на IP (0 - без лимита)
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// Настройки AI
	AIClientType  string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	AIBaseURL     string        `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIModel       string        `envconfig:"AI_MODEL" default:"deepseek/deepseek-chat"`
	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	AITemperature float64       `envconfig:"AI_TEMPERATURE" default:"0.8"`
	AIMaxTokens   int           `envconfig:"AI_MAX_TOKENS" default:"1024"`
	AIAPIKey      string        `envconfig:"AI_API_KEY"`

	// Хранилище: memory | postgres | redis
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"memory"`

	// Настройки PostgreSQL
	DBHost          string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort          string        `envconfig:"DB_PORT" default:"5432"`
	DBUser          string        `envconfig:"DB_USER" default:"postgres"`
	DBName          string        `envconfig:"DB_NAME" default:"flowtale"`
	DBSSLMode       string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns      int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout   time.Duration `envconfig:"DB_IDLE_TIMEOUT" default:"5m"`
	DBPassword      string        `envconfig:"DB_PASSWORD"`
	DBAutoMigrate   bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	ConnectRetries  int           `envconfig:"CONNECT_RETRIES" default:"10"`
	ConnectInterval time.Duration `envconfig:"CONNECT_RETRY_DELAY" default:"3s"`

	// Настройки Redis
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisStoryTTL time.Duration `envconfig:"REDIS_STORY_TTL" default:"0s"`

	// RabbitMQ (пустой URL - события не публикуются)
	RabbitMQURL      string `envconfig:"RABBITMQ_URL"`
	StoryEventsQueue string `envconfig:"STORY_EVENTS_QUEUE" default:"story_events"`
}

// LoadConfig загружает .env (если есть), переменные окружения и секреты.
func LoadConfig() (*Config, error) {
	// .env опционален
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	var err error
	if cfg.AIAPIKey, err = secretOrEnv("ai_api_key", cfg.AIAPIKey); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = secretOrEnv("db_password", cfg.DBPassword); err != nil {
		return nil, err
	}
	if cfg.RedisPassword, err = secretOrEnv("redis_password", cfg.RedisPassword); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StorageBackend) {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("неизвестный STORAGE_BACKEND: '%s'", c.StorageBackend)
	}
	if c.AIModel == "" {
		return errors.New("AI_MODEL не задан")
	}
	if c.RateLimitRequests < 0 {
		return errors.New("RATE_LIMIT_REQUESTS не может быть отрицательным")
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW должен быть больше нуля")
	}
	if c.AITimeout <= 0 {
		return errors.New("AI_TIMEOUT должен быть больше нуля")
	}
	if strings.ToLower(c.StorageBackend) == "postgres" && c.DBPassword == "" {
		return errors.New("для STORAGE_BACKEND=postgres нужен пароль БД (DB_PASSWORD или секрет db_password)")
	}
	return nil
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MaskedDSN возвращает DSN с замаскированным паролем для логирования
func (c *Config) MaskedDSN() string {
	return fmt.Sprintf("postgres://%s:********@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// secretOrEnv возвращает значение из переменной окружения, а если оно пустое - из Docker secret.
// Отсутствие файла секрета не ошибка.
func secretOrEnv(secretName, envValue string) (string, error) {
	if envValue != "" {
		return envValue, nil
	}
	filePath := secretsDir + "/" + secretName
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	return strings.TrimSpace(string(secretBytes)), nil
}
