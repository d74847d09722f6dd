package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrAIGenerationFailed - ошибка при генерации текста AI
var ErrAIGenerationFailed = errors.New("ошибка генерации текста AI")

// Типы клиентов
const (
	ClientTypeOpenAI    = "openai"
	ClientTypeOllama    = "ollama"
	ClientTypeAnthropic = "anthropic"
)

const fallbackEncoding = "cl100k_base"

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowtale_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"model", "flow", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowtale_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "flow"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowtale_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20), // 100, 200, ..., 2000
		},
		[]string{"model", "flow"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowtale_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(50, 50, 20), // 50, 100, ..., 1000
		},
		[]string{"model", "flow"},
	)
)

// GenerationParams - параметры генерации. Указатели отличают 0 от "не задано".
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	// JSONMode просит провайдера вернуть JSON-объект, если он это поддерживает.
	JSONMode bool
}

// UsageInfo содержит информацию об использовании токенов
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// Estimated - токены посчитаны локально через tiktoken, а не получены от провайдера.
	Estimated bool
}

// AIClient интерфейс для взаимодействия с AI API (Generation Service).
type AIClient interface {
	// GenerateText генерирует текст на основе системного промта и ввода пользователя.
	// flow используется только для метрик и логов.
	GenerateText(ctx context.Context, flow string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error)
}

// Config содержит конфигурацию для клиента нейросети
type Config struct {
	ClientType string
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
}

// NewAIClient создает клиент в зависимости от конфигурации
func NewAIClient(cfg Config, logger *zap.Logger) (AIClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		return nil, errors.New("не указана модель AI")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	switch strings.ToLower(cfg.ClientType) {
	case ClientTypeOpenAI, "":
		if cfg.APIKey == "" {
			return nil, errors.New("не указан API ключ для OpenAI-совместимого провайдера")
		}
		logger.Info("Используется реализация AI клиента: OpenAI",
			zap.String("baseURL", cfg.BaseURL), zap.String("model", cfg.Model), zap.Duration("timeout", cfg.Timeout))
		return newOpenAIClient(cfg, logger), nil
	case ClientTypeOllama:
		logger.Info("Используется реализация AI клиента: Ollama",
			zap.String("baseURL", cfg.BaseURL), zap.String("model", cfg.Model), zap.Duration("timeout", cfg.Timeout))
		client, err := newOllamaClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ClientTypeAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("не указан API ключ для Anthropic")
		}
		logger.Info("Используется реализация AI клиента: Anthropic",
			zap.String("model", cfg.Model), zap.Duration("timeout", cfg.Timeout))
		return newAnthropicClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.ClientType)
	}
}

// observeSuccess обновляет метрики успешного запроса.
func observeSuccess(model, flow string, duration time.Duration, usage UsageInfo) {
	aiRequestsTotal.With(prometheus.Labels{"model": model, "flow": flow, "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": model, "flow": flow}).Observe(duration.Seconds())
	if usage.TotalTokens > 0 {
		aiPromptTokens.With(prometheus.Labels{"model": model, "flow": flow}).Observe(float64(usage.PromptTokens))
		aiCompletionTokens.With(prometheus.Labels{"model": model, "flow": flow}).Observe(float64(usage.CompletionTokens))
	}
}

func observeError(model, flow, status string) {
	aiRequestsTotal.With(prometheus.Labels{"model": model, "flow": flow, "status": status}).Inc()
}

// estimateUsage считает токены локально, если провайдер не вернул usage.
func estimateUsage(model, systemPrompt, userInput, completion string) (UsageInfo, bool) {
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Модели OpenRouter/Ollama tiktoken не знает, считаем базовой кодировкой
		tke, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return UsageInfo{}, false
		}
	}
	prompt := len(tke.Encode(systemPrompt, nil, nil)) + len(tke.Encode(userInput, nil, nil))
	completionTokens := len(tke.Encode(completion, nil, nil))
	return UsageInfo{
		PromptTokens:     prompt,
		CompletionTokens: completionTokens,
		TotalTokens:      prompt + completionTokens,
		Estimated:        true,
	}, true
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
