package server

import (
	"bytes"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/inference"
	"github.com/relaygate/relaygate/internal/model"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/telemetry"
	"github.com/relaygate/relaygate/internal/variant"
)

// telemetry.NewMetrics registers on the default Prometheus registry, which
// accepts each collector once per test binary, so every test server shares
// one instance.
var testMetrics = telemetry.NewMetrics()

func newTestServer(t *testing.T) *Server {
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
			"dummy": {Name: "dummy", Adapter: providers.NewDummy("echo"), Credentials: model.CredentialSource{EnvVar: "DUMMY_TEST_KEY"}},
		},
	}
	dispatcher := &inference.Dispatcher{
		Functions:  map[string]*inference.FunctionConfig{"greet": fn},
		Models:     map[string]*model.Model{"dummy-model": m},
		RandSource: rand.NewSource(1),
	}

	cfgMgr := config.NewManager(t.TempDir())
	require.NoError(t, cfgMgr.Save(&config.GatewayConfig{Host: "127.0.0.1", Port: 0}))

	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))

	return New(cfgMgr, dispatcher, nil, testMetrics, logger)
}

func TestSetupRoutesMountsEveryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.setupRoutes()

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/metrics"},
		{http.MethodPost, "/inference"},
		{http.MethodPost, "/feedback"},
		{http.MethodPost, "/v1/optimizer/jobs"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewReader([]byte("{}")))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.NotEqual(t, http.StatusNotFound, rec.Code, "expected %s %s to be routed", tc.method, tc.path)
	}
}

func TestSetupRoutesUnknownPathIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
