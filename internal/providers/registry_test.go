package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	registry.Register("my_openai", NewOpenAI())

	adapter, err := registry.Get("my_openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", adapter.Name())
}

func TestRegistry_GetUnknownNameReturnsProviderNotFound(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("does_not_exist")
	require.Error(t, err)
	_, ok := gwerrors.As(err, gwerrors.KindProviderNotFound)
	assert.True(t, ok)
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()
	registry.Register("a", NewOpenAI())
	registry.Register("b", NewAnthropic())

	names := registry.List()
	assert.Len(t, names, 2)
	assert.Contains(t, names, "a")
	assert.Contains(t, names, "b")
}

func TestRegistry_TwoNamesCanShareOneBackend(t *testing.T) {
	// Two Azure deployments speak the same wire format but need distinct
	// credentials/model bindings, so lookup is by config-assigned name, not
	// by sniffing a shared domain.
	registry := NewRegistry()
	registry.Register("azure_eastus", NewAzureOpenAI("https://eastus.openai.azure.com", "gpt-4o"))
	registry.Register("azure_westus", NewAzureOpenAI("https://westus.openai.azure.com", "gpt-4o"))

	east, err := registry.Get("azure_eastus")
	require.NoError(t, err)
	west, err := registry.Get("azure_westus")
	require.NoError(t, err)

	assert.Equal(t, "azure", east.Name())
	assert.Equal(t, "azure", west.Name())
	assert.NotSame(t, east, west)
}

func TestResolveShorthand_KnownProviderTypes(t *testing.T) {
	tests := []struct {
		providerType string
		expectedName string
	}{
		{"openai", "openai"},
		{"anthropic", "anthropic"},
		{"mistral", "mistral"},
		{"together", "together"},
		{"fireworks", "fireworks"},
		{"deepseek", "deepseek"},
		{"groq", "groq"},
		{"hyperbolic", "hyperbolic"},
		{"xai", "xai"},
		{"openrouter", "openrouter"},
		{"nvidia", "nvidia"},
		{"google_ai_studio", "google_ai_studio"},
	}

	for _, tt := range tests {
		t.Run(tt.providerType, func(t *testing.T) {
			adapter, err := ResolveShorthand(tt.providerType, "some-model")
			require.NoError(t, err)
			assert.Equal(t, tt.expectedName, adapter.Name())
		})
	}
}

func TestResolveShorthand_Dummy(t *testing.T) {
	// NewDummy derives its Name() from the behavior string: "echo" (or
	// empty) keeps the bare "dummy" name, anything else suffixes it.
	echo, err := ResolveShorthand("dummy", "echo")
	require.NoError(t, err)
	assert.Equal(t, "dummy", echo.Name())

	errored, err := ResolveShorthand("dummy", "error")
	require.NoError(t, err)
	assert.Equal(t, "dummy::error", errored.Name())
}

func TestResolveShorthand_UnknownProviderType(t *testing.T) {
	_, err := ResolveShorthand("not-a-real-provider", "some-model")
	require.Error(t, err)
	_, ok := gwerrors.As(err, gwerrors.KindInvalidProviderConfig)
	assert.True(t, ok)
}
