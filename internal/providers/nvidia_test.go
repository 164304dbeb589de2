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

// NewNvidia is one of several NewXxx constructors (internal/providers/openai.go)
// that bind OpenAICompatible to a fixed backend instead of getting a standalone
// adapter type, since NVIDIA's NIM endpoints speak the same chat-completions
// wire format as every other entry in that list.
func TestNewNvidia_BasicMethods(t *testing.T) {
	p := NewNvidia()

	assert.Equal(t, "nvidia", p.Name())
	assert.True(t, p.SupportsStreaming())
	assert.Equal(t, "https://integrate.api.nvidia.com/v1/chat/completions", p.baseURL)
	assert.Equal(t, "Authorization", p.authHeader)

	bound := p.WithModel("meta/llama3-70b-instruct")
	assert.Equal(t, "meta/llama3-70b-instruct", bound.model)
}

func TestNewNvidia_InferUsesBearerAuth(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		resp := oaResponse{
			Choices: []oaChoice{{Message: oaMessage{Role: "assistant", Content: "ack"}, FinishReason: "stop"}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewNvidia().WithModel("meta/llama3-70b-instruct")
	p.baseURL = server.URL

	resp, err := p.Infer(context.Background(), Credentials{APIKey: "nvapi-test"}, ModelInferenceRequest{})
	require.NoError(t, err)

	assert.Equal(t, "Bearer nvapi-test", gotAuth)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "ack", resp.Content[0].Text)
}

func TestNewNvidia_ResolvedViaShorthand(t *testing.T) {
	adapter, err := ResolveShorthand("nvidia", "meta/llama3-70b-instruct")
	require.NoError(t, err)
	assert.Equal(t, "nvidia", adapter.Name())
}
