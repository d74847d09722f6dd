package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAIClient_Validation(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "no model", cfg: Config{ClientType: ClientTypeOpenAI, APIKey: "k"}, wantErr: true},
		{name: "openai without key", cfg: Config{ClientType: ClientTypeOpenAI, Model: "m"}, wantErr: true},
		{name: "anthropic without key", cfg: Config{ClientType: ClientTypeAnthropic, Model: "m"}, wantErr: true},
		{name: "unknown type", cfg: Config{ClientType: "gemini", Model: "m", APIKey: "k"}, wantErr: true},
		{name: "openai default type", cfg: Config{Model: "m", APIKey: "k"}},
		{name: "ollama without key", cfg: Config{ClientType: ClientTypeOllama, Model: "llama3"}},
		{name: "anthropic", cfg: Config{ClientType: "Anthropic", Model: "claude", APIKey: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAIClient(tt.cfg, logger)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestOpenAIClient_GenerateText(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"storyPart\":\"ok\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer server.Close()

	client, err := NewAIClient(Config{
		ClientType: ClientTypeOpenAI,
		APIKey:     "test-key",
		BaseURL:    server.URL + "/v1",
		Model:      "test-model",
		Timeout:    5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	temp := 0.7
	text, usage, err := client.GenerateText(context.Background(), "testFlow", "system prompt", "user input", GenerationParams{
		Temperature: &temp,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"storyPart":"ok"}`, text)
	assert.Equal(t, UsageInfo{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}, usage)

	assert.Equal(t, "test-model", gotBody["model"])
	responseFormat, ok := gotBody["response_format"].(map[string]interface{})
	require.True(t, ok, "response_format must be sent in JSON mode")
	assert.Equal(t, "json_object", responseFormat["type"])
	messages, ok := gotBody["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestOpenAIClient_GenerateText_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
		}))
		defer server.Close()

		client := newOpenAIClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m", Timeout: time.Second}, zap.NewNop())
		_, _, err := client.GenerateText(context.Background(), "testFlow", "system", "", GenerationParams{})
		assert.True(t, errors.Is(err, ErrAIGenerationFailed))
	})

	t.Run("empty choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": "x", "choices": [], "usage": {"total_tokens": 1}}`))
		}))
		defer server.Close()

		client := newOpenAIClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m", Timeout: time.Second}, zap.NewNop())
		_, _, err := client.GenerateText(context.Background(), "testFlow", "system", "", GenerationParams{})
		assert.ErrorIs(t, err, ErrAIGenerationFailed)
	})

	t.Run("empty system prompt", func(t *testing.T) {
		client := newOpenAIClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1", Model: "m", Timeout: time.Second}, zap.NewNop())
		_, _, err := client.GenerateText(context.Background(), "testFlow", "   ", "input", GenerationParams{})
		assert.ErrorIs(t, err, ErrAIGenerationFailed)
	})
}

func TestOllamaClient_GenerateText(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"hello"},"done":true,"prompt_eval_count":7,"eval_count":3}` + "\n"))
	}))
	defer server.Close()

	// Суффикс /v1 должен отрезаться
	client, err := newOllamaClient(Config{BaseURL: server.URL + "/v1", Model: "llama3", Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	maxTokens := 128
	text, usage, err := client.GenerateText(context.Background(), "testFlow", "system", "user", GenerationParams{
		MaxTokens: &maxTokens,
		JSONMode:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 10, usage.TotalTokens)
	assert.Equal(t, "json", gotBody["format"])
	assert.Equal(t, false, gotBody["stream"])
	options, ok := gotBody["options"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 128, options["num_predict"])
}

func TestAnthropicClient_GenerateText(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"storyPart\":"}, {"type": "text", "text": "\"ok\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 6}
		}`))
	}))
	defer server.Close()

	client := newAnthropicClient(Config{APIKey: "test-key", BaseURL: server.URL, Model: "claude-test", Timeout: 5 * time.Second}, zap.NewNop())
	text, usage, err := client.GenerateText(context.Background(), "testFlow", "system prompt", "", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, `{"storyPart":"ok"}`, text)
	assert.Equal(t, 26, usage.TotalTokens)

	assert.Equal(t, "system prompt", gotBody["system"])
	assert.EqualValues(t, defaultAnthropicMaxTokens, gotBody["max_tokens"])
	messages, ok := gotBody["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, messages, 1)
}
