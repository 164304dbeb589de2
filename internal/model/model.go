// Package model implements C6: ordered routing over a model's configured
// providers, per-provider credential resolution, and fallback error
// collection into ModelProvidersExhausted.
//
// Grounded on the teacher's internal/providers/registry.go Get/GetByDomain
// lookup (same "resolve a name to a callable thing, fail closed" shape),
// generalized from a flat provider lookup into an ordered routing list with
// a credential-resolution chain the teacher has no equivalent of — the
// teacher ran a single proxy session against one provider per request,
// chosen by the caller, never a gateway-owned model abstraction.
package model

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/providers"
)

// CredentialSource describes how to resolve an API key for one provider
// entry, outside of a per-request dynamic override.
type CredentialSource struct {
	EnvVar string

	once    sync.Once
	cached  string
	resolveErr error
}

// resolve runs exactly once per process for a given CredentialSource, using
// sync.Once (internal/schema's DynamicValidator gets the same run-once
// behaviour for schema compilation from a closed channel).
func (c *CredentialSource) resolve() (string, error) {
	c.once.Do(func() {
		if v := os.Getenv(c.EnvVar); v != "" {
			c.cached = v
			return
		}
		c.resolveErr = gwerrors.APIKeyMissing(c.EnvVar)
	})
	return c.cached, c.resolveErr
}

// ProviderEntry binds one routing-list name to its adapter and credential
// source.
type ProviderEntry struct {
	Name        string
	Adapter     providers.Adapter
	Credentials CredentialSource
	Timeout     time.Duration
}

// Model is {routing, providers, timeouts} per spec §4.6.
type Model struct {
	Routing   []string
	Providers map[string]*ProviderEntry
	Timeout   time.Duration
}

// resolveCredentials implements the precedence chain: per-request dynamic →
// process-wide cached default → environment variable → ApiKeyMissing. The
// "process-wide cached default" and "environment variable" steps collapse
// into CredentialSource.resolve, since this gateway has no separate
// config-supplied default-key slot beyond the env var itself; a future
// secrets-manager-backed default would plug in here without changing the
// precedence order.
func resolveCredentials(entry *ProviderEntry, dynamic map[string]string) (providers.Credentials, error) {
	if dynamic != nil {
		if key, ok := dynamic[entry.Name]; ok && key != "" {
			return providers.Credentials{APIKey: key}, nil
		}
	}
	key, err := entry.Credentials.resolve()
	if err != nil {
		return providers.Credentials{}, err
	}
	return providers.Credentials{APIKey: key}, nil
}

// Route walks m.Routing in order, invoking each adapter's Infer until one
// succeeds, per spec §4.6. Returns the name of the provider that served the
// response alongside the response itself.
func (m *Model) Route(ctx context.Context, req providers.ModelInferenceRequest, dynamicCreds map[string]string) (string, *providers.ProviderInferenceResponse, error) {
	providerErrors := make(map[string]error)
	for _, name := range m.Routing {
		entry, ok := m.Providers[name]
		if !ok {
			providerErrors[name] = gwerrors.ProviderNotFound(name)
			continue
		}
		creds, err := resolveCredentials(entry, dynamicCreds)
		if err != nil {
			providerErrors[name] = err
			continue
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if entry.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, entry.Timeout)
		}
		resp, err := entry.Adapter.Infer(callCtx, creds, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return name, resp, nil
		}
		providerErrors[name] = err
	}
	return "", nil, gwerrors.ModelProvidersExhausted(providerErrors)
}

// RouteStream is Route's streaming counterpart. Because only the first
// chunk's liveness is checked by C9's streaming core, RouteStream itself
// simply returns the first adapter in the routing list whose InferStream
// call succeeds in opening a stream; first-chunk liveness is the caller's
// concern (internal/streaming), since failing after the stream has already
// been handed back to the client can no longer trigger a routing fallback.
func (m *Model) RouteStream(ctx context.Context, req providers.ModelInferenceRequest, dynamicCreds map[string]string) (string, <-chan providers.StreamChunk, error) {
	providerErrors := make(map[string]error)
	for _, name := range m.Routing {
		entry, ok := m.Providers[name]
		if !ok {
			providerErrors[name] = gwerrors.ProviderNotFound(name)
			continue
		}
		creds, err := resolveCredentials(entry, dynamicCreds)
		if err != nil {
			providerErrors[name] = err
			continue
		}
		stream, err := entry.Adapter.InferStream(ctx, creds, req)
		if err == nil {
			return name, stream, nil
		}
		providerErrors[name] = err
	}
	return "", nil, gwerrors.ModelProvidersExhausted(providerErrors)
}

// ResolveShorthandModel synthesizes a single-provider Model from a
// `provider_type::model_name` string (spec §4.6), with no table mutation:
// the returned Model exists only for the duration of the call that needed
// it.
func ResolveShorthandModel(shorthand string, envVar string) (*Model, error) {
	providerType, modelName, ok := strings.Cut(shorthand, "::")
	if !ok {
		return nil, gwerrors.InvalidRequest("not a provider_type::model_name shorthand: " + shorthand)
	}
	adapter, err := providers.ResolveShorthand(providerType, modelName)
	if err != nil {
		return nil, err
	}
	if envVar == "" {
		envVar = strings.ToUpper(providerType) + "_API_KEY"
	}
	entry := &ProviderEntry{Name: providerType, Adapter: adapter, Credentials: CredentialSource{EnvVar: envVar}}
	return &Model{
		Routing:   []string{providerType},
		Providers: map[string]*ProviderEntry{providerType: entry},
	}, nil
}
