package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIClient реализует AIClient с использованием go-openai.
// Подходит для любого OpenAI-совместимого API (OpenAI, OpenRouter и т.п.).
type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func newOpenAIClient(cfg Config, logger *zap.Logger) *openAIClient {
	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openAIClient{
		client: openaigo.NewClientWithConfig(openaiConfig),
		model:  cfg.Model,
		logger: logger.Named("OpenAIClient"),
	}
}

// GenerateText генерирует текст на основе системного промта и ввода пользователя
func (c *openAIClient) GenerateText(ctx context.Context, flow string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usageInfo := UsageInfo{}
	log := c.logger.With(zap.String("flow", flow), zap.String("model", c.model))

	if strings.TrimSpace(systemPrompt) == "" {
		observeError(c.model, flow, "error")
		return "", usageInfo, fmt.Errorf("%w: системный промт пуст", ErrAIGenerationFailed)
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})
	}

	req := openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	}
	if params.JSONMode {
		req.ResponseFormat = &openaigo.ChatCompletionResponseFormat{Type: openaigo.ChatCompletionResponseFormatTypeJSONObject}
	}

	startTime := time.Now()
	log.Debug("Отправка запроса к AI", zap.Int("systemPromptBytes", len(systemPrompt)), zap.Int("userInputBytes", len(userInput)))

	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(startTime)
	if err != nil {
		log.Warn("Ошибка от AI API", zap.Duration("duration", duration), zap.Error(err))
		observeError(c.model, flow, "error")
		return "", usageInfo, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		log.Warn("AI API вернул пустой ответ", zap.Duration("duration", duration))
		observeError(c.model, flow, "error_empty_response")
		return "", usageInfo, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	generatedText := resp.Choices[0].Message.Content
	if resp.Usage.TotalTokens > 0 {
		usageInfo.PromptTokens = resp.Usage.PromptTokens
		usageInfo.CompletionTokens = resp.Usage.CompletionTokens
		usageInfo.TotalTokens = resp.Usage.TotalTokens
	} else if estimated, ok := estimateUsage(c.model, systemPrompt, userInput, generatedText); ok {
		usageInfo = estimated
	}

	observeSuccess(c.model, flow, duration, usageInfo)
	log.Info("Ответ от AI API получен",
		zap.Duration("duration", duration),
		zap.Int("responseLength", len(generatedText)),
		zap.Int("promptTokens", usageInfo.PromptTokens),
		zap.Int("completionTokens", usageInfo.CompletionTokens),
		zap.Bool("estimatedUsage", usageInfo.Estimated),
	)
	return generatedText, usageInfo, nil
}
