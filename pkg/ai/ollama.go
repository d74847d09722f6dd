package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// ollamaClient реализует AIClient с использованием ollama/api
type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// newOllamaClient создает новый клиент для взаимодействия с Ollama
func newOllamaClient(cfg Config, logger *zap.Logger) (*ollamaClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	// api.NewClient требует URL без суффикса /v1
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", baseURL, err)
	}

	return &ollamaClient{
		client:  api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger.Named("OllamaClient"),
	}, nil
}

// GenerateText генерирует текст с использованием Ollama
func (c *ollamaClient) GenerateText(ctx context.Context, flow string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usageInfo := UsageInfo{}
	log := c.logger.With(zap.String("flow", flow), zap.String("model", c.model))

	if strings.TrimSpace(systemPrompt) == "" {
		observeError(c.model, flow, "error")
		return "", usageInfo, fmt.Errorf("%w: системный промт пуст", ErrAIGenerationFailed)
	}

	messages := []api.Message{{Role: "system", Content: systemPrompt}}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}

	options := map[string]interface{}{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
	if params.JSONMode {
		req.Format = json.RawMessage(`"json"`)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	log.Debug("Отправка запроса к Ollama", zap.Int("systemPromptBytes", len(systemPrompt)), zap.Int("userInputBytes", len(userInput)))

	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Таймаут запроса к Ollama", zap.Duration("timeout", c.timeout), zap.Error(err))
		} else {
			log.Warn("Ошибка от Ollama API", zap.Duration("duration", duration), zap.Error(err))
		}
		observeError(c.model, flow, "error")
		return "", usageInfo, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	if resp.Message.Content == "" {
		log.Warn("Ollama API вернул пустой ответ", zap.Duration("duration", duration))
		observeError(c.model, flow, "error_empty_response")
		return "", usageInfo, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	usageInfo.PromptTokens = resp.PromptEvalCount
	usageInfo.CompletionTokens = resp.EvalCount
	usageInfo.TotalTokens = resp.PromptEvalCount + resp.EvalCount

	observeSuccess(c.model, flow, duration, usageInfo)
	log.Info("Ответ от Ollama API получен",
		zap.Duration("duration", duration),
		zap.Int("responseLength", len(resp.Message.Content)),
		zap.Int("totalTokens", usageInfo.TotalTokens),
	)
	return resp.Message.Content, usageInfo, nil
}
