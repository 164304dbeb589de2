package providers

import (
	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// Registry holds one Adapter per configured provider name, keyed the way
// C6's model config refers to them ("openai", "my_azure_deployment", ...).
// Generalized from the teacher's registry.go Provider/Registry pair, which
// keyed by a fixed built-in provider-type name and resolved lookups by
// sniffing the API base URL's domain; domain sniffing doesn't generalize to
// config-declared provider instances (two Azure deployments share a domain
// shape but need distinct credentials/model bindings), so lookup here is by
// the name the gateway config assigns each provider instance.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds name (a gateway-config provider name, not necessarily the
// adapter's own Name()) to adapter.
func (r *Registry) Register(name string, adapter Adapter) {
	r.adapters[name] = adapter
}

// Get retrieves an adapter by its configured name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, gwerrors.ProviderNotFound(name)
	}
	return a, nil
}

// List returns every registered provider name.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// shorthandBindings maps a `provider_type::model_name` shorthand prefix
// (spec §4.6) to the zero-config Adapter constructor it expands to, so the
// router can synthesize a provider entry on the fly without requiring the
// user to declare it in the gateway config.
var shorthandBindings = map[string]func(model string) Adapter{
	"openai":      func(model string) Adapter { return NewOpenAI().WithModel(model) },
	"anthropic":   func(model string) Adapter { return NewAnthropic().WithModel(model) },
	"mistral":     func(model string) Adapter { return NewMistral().WithModel(model) },
	"together":    func(model string) Adapter { return NewTogether().WithModel(model) },
	"fireworks":   func(model string) Adapter { return NewFireworks().WithModel(model) },
	"deepseek":    func(model string) Adapter { return NewDeepSeek().WithModel(model) },
	"groq":        func(model string) Adapter { return NewGroq().WithModel(model) },
	"hyperbolic":  func(model string) Adapter { return NewHyperbolic().WithModel(model) },
	"xai":         func(model string) Adapter { return NewXAI().WithModel(model) },
	"openrouter":  func(model string) Adapter { return NewOpenRouter().WithModel(model) },
	"nvidia":      func(model string) Adapter { return NewNvidia().WithModel(model) },
	"google_ai_studio": func(model string) Adapter { return NewGemini().WithModel(model) },
	"dummy":       func(model string) Adapter { return NewDummy(model) },
}

// ResolveShorthand expands a `provider_type::model_name` string (spec §4.6)
// into a ready-to-use Adapter bound to model, bypassing the registry for
// providers that need no endpoint/deployment configuration beyond a model
// name and a credential.
func ResolveShorthand(providerType, model string) (Adapter, error) {
	ctor, ok := shorthandBindings[providerType]
	if !ok {
		return nil, gwerrors.InvalidProviderConfig("unknown shorthand provider type: " + providerType)
	}
	return ctor(model), nil
}
