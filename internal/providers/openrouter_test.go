package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewOpenRouter, like NewNvidia, binds OpenAICompatible to a fixed backend
// rather than getting a standalone adapter type (internal/providers/openai.go).
func TestNewOpenRouter_BasicMethods(t *testing.T) {
	p := NewOpenRouter()

	assert.Equal(t, "openrouter", p.Name())
	assert.True(t, p.SupportsStreaming())
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", p.baseURL)

	bound := p.WithModel("anthropic/claude-3.5-sonnet")
	assert.Equal(t, "anthropic/claude-3.5-sonnet", bound.model)
}

func TestNewOpenRouter_InferParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tc oaToolCall
		tc.ID = "call_1"
		tc.Type = "function"
		tc.Function.Name = "get_weather"
		tc.Function.Arguments = `{"city":"nyc"}`

		resp := oaResponse{
			Choices: []oaChoice{{
				Message:      oaMessage{Role: "assistant", ToolCalls: []oaToolCall{tc}},
				FinishReason: "tool_calls",
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenRouter().WithModel("anthropic/claude-3.5-sonnet")
	p.baseURL = server.URL

	resp, err := p.Infer(context.Background(), Credentials{APIKey: "or-test"}, ModelInferenceRequest{})
	require.NoError(t, err)

	require.Len(t, resp.Content, 1)
	assert.Equal(t, "get_weather", resp.Content[0].ToolName)
	assert.Equal(t, "nyc", resp.Content[0].ParsedArgs.(map[string]any)["city"])
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestNewOpenRouter_ResolvedViaShorthand(t *testing.T) {
	adapter, err := ResolveShorthand("openrouter", "anthropic/claude-3.5-sonnet")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", adapter.Name())
}
