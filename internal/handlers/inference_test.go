package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/content"
	"github.com/relaygate/relaygate/internal/inference"
	"github.com/relaygate/relaygate/internal/model"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/variant"
)

type noopStore struct{}

func (noopStore) RecordInference(ctx context.Context, rec inference.InferenceRecord) error { return nil }

func newTestDispatcher(t *testing.T, behavior string) *inference.Dispatcher {
	t.Helper()
	t.Setenv("DUMMY_TEST_KEY", "k")

	c, err := variant.CompileChatCompletion("v1", 1, "dummy-model", providers.JSONModeOff, "", nil)
	require.NoError(t, err)

	fn := &inference.FunctionConfig{
		Name: "greet",
		Type: providers.FunctionChat,
		Variants: map[string]*inference.VariantConfig{
			"v1": {Weight: 1, Chat: c},
		},
	}
	m := &model.Model{
		Routing: []string{"dummy"},
		Providers: map[string]*model.ProviderEntry{
			"dummy": {Name: "dummy", Adapter: providers.NewDummy(behavior), Credentials: model.CredentialSource{EnvVar: "DUMMY_TEST_KEY"}},
		},
	}

	return &inference.Dispatcher{
		Functions:  map[string]*inference.FunctionConfig{"greet": fn},
		Models:     map[string]*model.Model{"dummy-model": m},
		Store:      noopStore{},
		RandSource: rand.NewSource(1),
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestInferenceHandlerServesNonStreamingRequest(t *testing.T) {
	h := NewInferenceHandler(newTestDispatcher(t, "echo"), newTestLogger())

	body := inferenceRequest{
		FunctionName: "greet",
		Input:        content.Message{Turns: []content.Turn{{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: "hi"}}}}},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(raw))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp inferenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.VariantName)
	assert.Equal(t, "Hello, world!", resp.Content[0].Text)
}

func TestInferenceHandlerRejectsWrongMethod(t *testing.T) {
	h := NewInferenceHandler(newTestDispatcher(t, "echo"), newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/inference", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInferenceHandlerMapsDispatcherErrorToGatewayStatus(t *testing.T) {
	h := NewInferenceHandler(newTestDispatcher(t, "echo"), newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader([]byte(`{"function_name":"missing"}`)))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestInferenceHandlerStreamsSSEEvents(t *testing.T) {
	h := NewInferenceHandler(newTestDispatcher(t, "echo"), newTestLogger())

	body := inferenceRequest{
		FunctionName: "greet",
		Stream:       true,
		Input:        content.Message{Turns: []content.Turn{{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: "hi"}}}}},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(raw))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.Contains(t, rec.Body.String(), "event: done")
}
