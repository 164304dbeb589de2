// FunctionLoader compiles a loaded GatewayConfig into the runtime tables
// internal/inference.Dispatcher needs: C3's compiled schemas, C4's static
// tool descriptors, C6's routed Models, and C7's compiled variants.
//
// Grounded on the teacher having no config-to-runtime compilation step at
// all (its Manager only ever fed a flat {Providers, Router} straight to the
// proxy handler); this two-pass build is new code shaped by C7's own
// constraint that BestOfNConfig.Judge is a resolved *variant.ChatCompletion,
// not a name, so every chat_completion/dicl variant in a function must
// compile before that function's best_of_n variants can reference them.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/inference"
	"github.com/relaygate/relaygate/internal/model"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/schema"
	"github.com/relaygate/relaygate/internal/store"
	"github.com/relaygate/relaygate/internal/tool"
	"github.com/relaygate/relaygate/internal/variant"
)

// LoadedRuntime is everything the dispatcher needs to serve inference
// traffic, built from one GatewayConfig.
type LoadedRuntime struct {
	Functions map[string]*inference.FunctionConfig
	Models    map[string]*model.Model
}

// FunctionLoader builds a LoadedRuntime from a GatewayConfig. BaseDir
// resolves the relative schema/template/tool-parameter file paths the
// config entries name; RedisClient backs any dicl variant's example index
// and may be nil if the config defines none.
type FunctionLoader struct {
	BaseDir     string
	RedisClient redis.UniversalClient
}

// Load compiles cfg into a LoadedRuntime, failing fast (config load is
// fatal to startup per spec §4.3/§4.13) on the first schema, template, or
// tool-parameter file that doesn't compile.
func (l *FunctionLoader) Load(cfg *GatewayConfig) (*LoadedRuntime, error) {
	models, err := l.buildModels(cfg.Models)
	if err != nil {
		return nil, err
	}

	tools, err := l.buildTools(cfg.Tools)
	if err != nil {
		return nil, err
	}

	functions := make(map[string]*inference.FunctionConfig, len(cfg.Functions))
	for name, entry := range cfg.Functions {
		fn, err := l.buildFunction(name, entry, tools)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", name, err)
		}
		functions[name] = fn
	}

	return &LoadedRuntime{Functions: functions, Models: models}, nil
}

// buildModels resolves C6's Model table from ModelConfig entries, binding
// each routing-list provider name to an adapter via
// providers.ResolveShorthand the same way internal/model.ResolveShorthandModel
// does for ad hoc shorthand models.
func (l *FunctionLoader) buildModels(entries map[string]ModelConfig) (map[string]*model.Model, error) {
	models := make(map[string]*model.Model, len(entries))
	for name, mc := range entries {
		entries := make(map[string]*model.ProviderEntry, len(mc.Providers))
		for providerName, pc := range mc.Providers {
			adapter, err := providers.ResolveShorthand(pc.Type, pc.ModelName)
			if err != nil {
				return nil, fmt.Errorf("model %q provider %q: %w", name, providerName, err)
			}
			envVar := pc.APIKeyEnvVar
			if envVar == "" {
				envVar = defaultEnvVar(pc.Type)
			}
			entries[providerName] = &model.ProviderEntry{
				Name:        providerName,
				Adapter:     adapter,
				Credentials: model.CredentialSource{EnvVar: envVar},
				Timeout:     pc.Timeout,
			}
		}
		models[name] = &model.Model{Routing: mc.Routing, Providers: entries, Timeout: mc.Timeout}
	}
	return models, nil
}

func defaultEnvVar(providerType string) string {
	switch providerType {
	case "dummy":
		return ""
	default:
		return fmt.Sprintf("%s_API_KEY", upper(providerType))
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// buildTools compiles every named tool entry into a tool.Descriptor, reading
// each one's JSON-schema parameters file relative to BaseDir.
func (l *FunctionLoader) buildTools(entries map[string]ToolEntryConfig) (map[string]tool.Descriptor, error) {
	descriptors := make(map[string]tool.Descriptor, len(entries))
	for name, tc := range entries {
		raw, err := os.ReadFile(l.resolve(tc.ParametersPath))
		if err != nil {
			return nil, fmt.Errorf("tool %q: read parameters file: %w", name, err)
		}
		descriptors[name] = tool.Descriptor{
			Name:        name,
			Description: tc.Description,
			Parameters:  raw,
			Strict:      tc.Strict,
		}
	}
	return descriptors, nil
}

// buildFunction compiles one function entry's schemas, static tool set, and
// variant pool. Variants compile in two passes: chat_completion and dicl
// first (best_of_n may reference either by name as a candidate, and its
// judge must already be a resolved *variant.ChatCompletion), then best_of_n.
func (l *FunctionLoader) buildFunction(name string, entry FunctionEntryConfig, tools map[string]tool.Descriptor) (*inference.FunctionConfig, error) {
	fnType := providers.FunctionChat
	if entry.Type == "json" {
		fnType = providers.FunctionJSON
	}

	fn := &inference.FunctionConfig{
		Name:     name,
		Type:     fnType,
		Variants: make(map[string]*inference.VariantConfig, len(entry.Variants)),
	}

	if entry.InputSchemaPath != "" {
		raw, err := os.ReadFile(l.resolve(entry.InputSchemaPath))
		if err != nil {
			return nil, fmt.Errorf("read input schema: %w", err)
		}
		v, err := schema.CompileStatic(name+"#input", raw)
		if err != nil {
			return nil, err
		}
		fn.InputSchema = v
	}
	if entry.OutputSchemaPath != "" {
		raw, err := os.ReadFile(l.resolve(entry.OutputSchemaPath))
		if err != nil {
			return nil, fmt.Errorf("read output schema: %w", err)
		}
		v, err := schema.CompileStatic(name+"#output", raw)
		if err != nil {
			return nil, err
		}
		fn.OutputSchema = v
	}

	for _, toolName := range entry.Tools {
		d, ok := tools[toolName]
		if !ok {
			return nil, gwerrors.InvalidRequest(fmt.Sprintf("function %q references unknown tool %q", name, toolName))
		}
		fn.StaticTools = append(fn.StaticTools, d)
	}

	chatLike := make(map[string]*variant.ChatCompletion)
	for variantName, vc := range entry.Variants {
		switch vc.Type {
		case "chat_completion":
			c, err := l.compileChat(variantName, vc)
			if err != nil {
				return nil, fmt.Errorf("variant %q: %w", variantName, err)
			}
			fn.Variants[variantName] = &inference.VariantConfig{Weight: vc.Weight, Chat: c}
			chatLike[variantName] = c
		case "dicl":
			d, err := l.compileDICL(variantName, vc)
			if err != nil {
				return nil, fmt.Errorf("variant %q: %w", variantName, err)
			}
			fn.Variants[variantName] = &inference.VariantConfig{Weight: vc.Weight, DICL: d}
			chatLike[variantName] = d.Inner
		case "best_of_n":
			// deferred to the second pass below
		default:
			return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("function %q variant %q: unknown variant type %q", name, variantName, vc.Type))
		}
	}

	for variantName, vc := range entry.Variants {
		if vc.Type != "best_of_n" {
			continue
		}
		judge, ok := chatLike[vc.Judge]
		if !ok {
			return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("function %q variant %q: judge %q must be a chat_completion or dicl variant defined in the same function", name, variantName, vc.Judge))
		}
		for _, candidate := range vc.Candidates {
			if _, ok := chatLike[candidate]; !ok {
				return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("function %q variant %q: candidate %q is not a chat_completion or dicl variant in the same function", name, variantName, candidate))
			}
		}
		fn.Variants[variantName] = &inference.VariantConfig{
			Weight: vc.Weight,
			BestOfN: &inference.BestOfNConfig{
				CandidateVariantNames: vc.Candidates,
				Judge:                 judge,
			},
		}
	}

	return fn, nil
}

func (l *FunctionLoader) compileChat(variantName string, vc VariantEntryConfig) (*variant.ChatCompletion, error) {
	systemTemplate := ""
	if vc.SystemTemplatePath != "" {
		raw, err := os.ReadFile(l.resolve(vc.SystemTemplatePath))
		if err != nil {
			return nil, fmt.Errorf("read system template: %w", err)
		}
		systemTemplate = string(raw)
	}

	blockTemplates := make(map[string]string, len(vc.TemplatePaths))
	for role, path := range vc.TemplatePaths {
		raw, err := os.ReadFile(l.resolve(path))
		if err != nil {
			return nil, fmt.Errorf("read %s template: %w", role, err)
		}
		blockTemplates[role] = string(raw)
	}

	jsonMode := providers.JSONMode(vc.JSONMode)
	if jsonMode == "" {
		jsonMode = providers.JSONModeOff
	}

	return variant.CompileChatCompletion(variantName, vc.Weight, vc.Model, jsonMode, systemTemplate, blockTemplates)
}

func (l *FunctionLoader) compileDICL(variantName string, vc VariantEntryConfig) (*variant.DICL, error) {
	inner, err := l.compileChat(variantName, vc)
	if err != nil {
		return nil, err
	}
	if l.RedisClient == nil {
		return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("dicl variant %q requires a configured redis_addr", variantName))
	}
	index := store.NewRedisExampleIndex(l.RedisClient, "relaygate", variantName)
	return &variant.DICL{
		Name:           variantName,
		Weight:         vc.Weight,
		EmbeddingModel: vc.EmbeddingModel,
		K:              vc.K,
		Inner:          inner,
		ExampleSource: func(ctx context.Context) ([]variant.Example, error) {
			return index.Source(ctx)
		},
	}, nil
}

func (l *FunctionLoader) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.BaseDir, path)
}
