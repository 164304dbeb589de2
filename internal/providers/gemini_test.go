package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

func TestNewGemini_BasicMethods(t *testing.T) {
	p := NewGemini()

	assert.Equal(t, "google_ai_studio", p.Name())
	assert.True(t, p.SupportsStreaming())
	assert.False(t, p.SupportsParallelToolCalls())

	bound := p.WithModel("gemini-2.0-flash")
	assert.Equal(t, "gemini-2.0-flash", bound.model)
	assert.Equal(t, "", p.model, "WithModel must not mutate the receiver")
}

func TestNewVertex_Name(t *testing.T) {
	p := NewVertex("my-project", "us-central1")
	assert.Equal(t, "gcp_vertex_gemini", p.Name())
}

func TestGemini_URLStudioVsVertex(t *testing.T) {
	studio := NewGemini().WithModel("gemini-2.0-flash")
	assert.Contains(t, studio.url(false), "generativelanguage.googleapis.com")
	assert.Contains(t, studio.url(false), ":generateContent")
	assert.Contains(t, studio.url(true), ":streamGenerateContent?alt=sse")

	vertex := NewVertex("my-project", "us-central1").WithModel("gemini-2.0-flash")
	url := vertex.url(false)
	assert.Contains(t, url, "us-central1-aiplatform.googleapis.com")
	assert.Contains(t, url, "projects/my-project/locations/us-central1")
}

func TestGemini_AuthRequestStudioUsesQueryParam(t *testing.T) {
	p := NewGemini().WithModel("gemini-2.0-flash")
	req, err := http.NewRequest(http.MethodPost, p.url(false), nil)
	require.NoError(t, err)

	require.NoError(t, p.authRequest(req, Credentials{APIKey: "studio-key"}))
	assert.Equal(t, "studio-key", req.URL.Query().Get("key"))
}

func TestGemini_AuthRequestVertexUsesBearer(t *testing.T) {
	p := NewVertex("proj", "us-central1").WithModel("gemini-2.0-flash")
	req, err := http.NewRequest(http.MethodPost, p.url(false), nil)
	require.NoError(t, err)

	require.NoError(t, p.authRequest(req, Credentials{APIKey: "vertex-token"}))
	assert.Equal(t, "Bearer vertex-token", req.Header.Get("Authorization"))
}

func TestGemini_AuthRequestMissingAPIKey(t *testing.T) {
	p := NewGemini().WithModel("gemini-2.0-flash")
	req, err := http.NewRequest(http.MethodPost, p.url(false), nil)
	require.NoError(t, err)

	err = p.authRequest(req, Credentials{})
	require.Error(t, err)
	_, ok := gwerrors.As(err, gwerrors.KindAPIKeyMissing)
	assert.True(t, ok)
}

func TestGemini_InferParsesCandidateAndUsage(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")

		resp := geminiResponse{
			Candidates: []struct {
				Content      geminiContentMsg `json:"content"`
				FinishReason string           `json:"finishReason"`
			}{{
				Content:      geminiContentMsg{Role: "model", Parts: []geminiPart{{Text: "hi there"}}},
				FinishReason: "STOP",
			}},
		}
		resp.UsageMetadata = geminiUsageMeta{PromptTokenCount: 8, CandidatesTokenCount: 4, CachedContentTokenCount: 2}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewGemini().WithModel("gemini-2.0-flash")
	p.studioBase = strings.TrimSuffix(server.URL, "/")

	req := ModelInferenceRequest{
		Messages: content.Message{Turns: []content.Turn{
			{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: "hi"}}},
		}},
	}

	resp, err := p.Infer(context.Background(), Credentials{APIKey: "studio-key"}, req)
	require.NoError(t, err)

	assert.Equal(t, "studio-key", gotKey)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hi there", resp.Content[0].Text)
	assert.Equal(t, 10, resp.Usage.InputTokens, "cache tokens must be folded into input_tokens")
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestGemini_InferServerErrorIsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	p := NewGemini().WithModel("gemini-2.0-flash")
	p.studioBase = strings.TrimSuffix(server.URL, "/")

	_, err := p.Infer(context.Background(), Credentials{APIKey: "studio-key"}, ModelInferenceRequest{})
	require.Error(t, err)
	_, ok := gwerrors.As(err, gwerrors.KindInferenceClient)
	assert.True(t, ok)
}

func TestTurnToGeminiContent_ToolResultUsesFunctionRole(t *testing.T) {
	turn := content.Turn{
		Role: content.RoleToolProducer,
		Content: []content.Block{
			{Type: content.BlockToolResult, ToolResultName: "get_weather", Result: "sunny"},
		},
	}

	msg := turnToGeminiContent(turn)
	assert.Equal(t, "function", msg.Role)
	require.Len(t, msg.Parts, 1)
	require.NotNil(t, msg.Parts[0].FunctionResponse)
	assert.Equal(t, "get_weather", msg.Parts[0].FunctionResponse.Name)
}

func TestBuildRequest_NoToolsOmitsTools(t *testing.T) {
	p := NewGemini().WithModel("gemini-2.0-flash")

	req := ModelInferenceRequest{}
	body := p.buildRequest(req)
	assert.Nil(t, body.Tools)
}
