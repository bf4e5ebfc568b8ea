package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicClient(AnthropicConfig{})
	assert.Error(t, err)

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	c, err := NewAnthropicClient(AnthropicConfig{})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestAnthropicClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "You are a strict judge.", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":       req.Model,
			"content":     []map[string]any{{"type": "text", "text": "PASS: true"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 12, "output_tokens": 4},
		})
	}))
	defer server.Close()

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are a strict judge."},
			{Role: RoleUser, Content: "Evaluate this."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "PASS: true", resp.Text)
	assert.Equal(t, int64(12), resp.InputTokens)
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestAnthropicClient_CompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "rate_limit_error", "message": "rate limited"},
		})
	}))
	defer server.Close()

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestAnthropicClient_CompleteRequiresMessages(t *testing.T) {
	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleSystem, Content: "only system"}},
	})
	assert.Error(t, err)
}
