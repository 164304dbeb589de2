package errors_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

func TestHTTPStatusDefaults(t *testing.T) {
	cases := []struct {
		err  *gwerrors.GatewayError
		want int
	}{
		{gwerrors.InvalidRequest("bad"), http.StatusBadRequest},
		{gwerrors.ModelProvidersExhausted(map[string]error{"a": assertErr}), http.StatusBadGateway},
		{gwerrors.AllVariantsFailed(map[string]error{"v": assertErr}), http.StatusBadGateway},
		{gwerrors.Migration("0001", "boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.err.HTTPStatus())
	}
}

func TestInferenceClientExplicitStatus(t *testing.T) {
	err := gwerrors.InferenceClient("openai", 429, "{}", "", "rate limited")
	assert.Equal(t, 429, err.HTTPStatus())
	assert.Equal(t, "openai", err.ProviderType)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, gwerrors.IsRetryable(gwerrors.JSONSchemaValidation(nil, nil, []string{"x"})))
	assert.True(t, gwerrors.IsRetryable(gwerrors.InferenceServer("openai", "", "", "boom")))
	assert.False(t, gwerrors.IsRetryable(assertErr))
}

func TestModelProvidersExhaustedKeepsCauses(t *testing.T) {
	err := gwerrors.ModelProvidersExhausted(map[string]error{
		"openai":    assertErr,
		"anthropic": assertErr,
	})
	assert.Len(t, err.ProviderErrors, 2)
	assert.Equal(t, gwerrors.KindModelProvidersExhausted, err.Kind)
}

var assertErr = gwerrors.InvalidRequest("sentinel")
