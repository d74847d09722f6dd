package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 1024

// anthropicClient реализует AIClient через Messages API Anthropic.
type anthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

func newAnthropicClient(cfg Config, logger *zap.Logger) *anthropicClient {
	opts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicClient{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		model:  cfg.Model,
		logger: logger.Named("AnthropicClient"),
	}
}

// GenerateText генерирует текст с использованием Anthropic.
// Messages API требует хотя бы одно сообщение пользователя, поэтому пустой ввод заменяется заглушкой.
func (c *anthropicClient) GenerateText(ctx context.Context, flow string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usageInfo := UsageInfo{}
	log := c.logger.With(zap.String("flow", flow), zap.String("model", c.model))

	if strings.TrimSpace(systemPrompt) == "" {
		observeError(c.model, flow, "error")
		return "", usageInfo, fmt.Errorf("%w: системный промт пуст", ErrAIGenerationFailed)
	}
	if userInput == "" {
		userInput = "Continue."
	}

	maxTokens := intVal(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    systemPrompt,
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage(userInput)},
		MaxTokens: maxTokens,
	}
	if params.Temperature != nil {
		t := float32(*params.Temperature)
		req.Temperature = &t
	}
	if params.TopP != nil {
		p := float32(*params.TopP)
		req.TopP = &p
	}

	startTime := time.Now()
	resp, err := c.client.CreateMessages(ctx, req)
	duration := time.Since(startTime)
	if err != nil {
		log.Warn("Ошибка от Anthropic API", zap.Duration("duration", duration), zap.Error(err))
		observeError(c.model, flow, "error")
		return "", usageInfo, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	var sb strings.Builder
	for _, content := range resp.Content {
		if content.Text != nil {
			sb.WriteString(*content.Text)
		}
	}
	generatedText := sb.String()
	if generatedText == "" {
		log.Warn("Anthropic API вернул пустой ответ", zap.Duration("duration", duration))
		observeError(c.model, flow, "error_empty_response")
		return "", usageInfo, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	usageInfo.PromptTokens = resp.Usage.InputTokens
	usageInfo.CompletionTokens = resp.Usage.OutputTokens
	usageInfo.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens

	observeSuccess(c.model, flow, duration, usageInfo)
	log.Info("Ответ от Anthropic API получен",
		zap.Duration("duration", duration),
		zap.Int("responseLength", len(generatedText)),
		zap.Int("totalTokens", usageInfo.TotalTokens),
	)
	return generatedText, usageInfo, nil
}
