// Package config implements the gateway's static configuration: the
// GatewayConfig YAML/JSON file (SPEC_FULL §4.13) and, in loader.go, the
// FunctionLoader that compiles it into the runtime tables C6/C7 need.
//
// Grounded on the teacher's internal/config/config.go Manager
// (YAML-takes-precedence-over-JSON Load, atomic.Value-cached Get,
// Save/SaveAsYAML/SaveAsJSON), generalized from the teacher's flat
// {Providers, Router} shape to SPEC_FULL §4.13's
// {Models, Functions, Metrics, Embeddings} tables, since this gateway
// routes by function+variant rather than a fixed four-slot router.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
)

// ProviderInstanceConfig is one routing-list entry within a ModelConfig:
// which backend it binds to, which model name it calls, and where its
// credential and timeout come from.
type ProviderInstanceConfig struct {
	Type         string        `json:"type" yaml:"type"`
	ModelName    string        `json:"model_name" yaml:"model_name"`
	APIKeyEnvVar string        `json:"api_key_env_var,omitempty" yaml:"api_key_env_var,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ModelConfig is {routing, providers, timeout} per spec §4.6, the
// YAML-facing counterpart internal/model.Model is built from.
type ModelConfig struct {
	Routing   []string                          `json:"routing" yaml:"routing"`
	Providers map[string]ProviderInstanceConfig `json:"providers" yaml:"providers"`
	Timeout   time.Duration                      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ToolEntryConfig is one named tool definition, referenced by name from a
// function's Tools list. ParametersPath points at a JSON-schema file
// sitting next to the config, mirroring how InputSchemaPath/Templates are
// loaded from sibling files.
type ToolEntryConfig struct {
	Description    string `json:"description,omitempty" yaml:"description,omitempty"`
	ParametersPath string `json:"parameters_path" yaml:"parameters_path"`
	Strict         bool   `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// VariantEntryConfig is one function's variant entry; exactly one of the
// Chat/BestOfN/DICL field groups applies, selected by Type.
type VariantEntryConfig struct {
	Type   string  `json:"type" yaml:"type"` // "chat_completion" | "best_of_n" | "dicl"
	Weight float64 `json:"weight" yaml:"weight"`

	// chat_completion
	Model              string            `json:"model,omitempty" yaml:"model,omitempty"`
	JSONMode           string            `json:"json_mode,omitempty" yaml:"json_mode,omitempty"`
	SystemTemplatePath string            `json:"system_template_path,omitempty" yaml:"system_template_path,omitempty"`
	TemplatePaths      map[string]string `json:"template_paths,omitempty" yaml:"template_paths,omitempty"`

	// best_of_n
	Candidates []string `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Judge      string   `json:"judge,omitempty" yaml:"judge,omitempty"`

	// dicl — embeds a chat_completion shape for its inner variant plus
	// retrieval parameters.
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	K              int    `json:"k,omitempty" yaml:"k,omitempty"`
}

// FunctionEntryConfig is one function's static configuration: schemas,
// static tool set, and its variant pool.
type FunctionEntryConfig struct {
	Type             string                         `json:"type" yaml:"type"` // "chat" | "json"
	InputSchemaPath  string                         `json:"input_schema_path,omitempty" yaml:"input_schema_path,omitempty"`
	OutputSchemaPath string                         `json:"output_schema_path,omitempty" yaml:"output_schema_path,omitempty"` // json functions only
	Tools            []string                       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Variants         map[string]VariantEntryConfig   `json:"variants" yaml:"variants"`
}

// MetricConfig describes one feedback metric's level and value type, so
// the feedback endpoint can validate incoming values before C10 persists
// them.
type MetricConfig struct {
	Level    string `json:"level" yaml:"level"`       // "episode" | "inference"
	Type     string `json:"type" yaml:"type"`         // "boolean" | "float" | "comment" | "demonstration"
	Optimize string `json:"optimize,omitempty" yaml:"optimize,omitempty"` // "min" | "max"
}

// EmbeddingModelConfig names the provider/model a DICL variant uses to
// embed its query input before retrieval.
type EmbeddingModelConfig struct {
	Provider     string `json:"provider" yaml:"provider"`
	ModelName    string `json:"model_name" yaml:"model_name"`
	APIKeyEnvVar string `json:"api_key_env_var,omitempty" yaml:"api_key_env_var,omitempty"`
}

// GatewayConfig is the full static configuration file, per SPEC_FULL §4.13.
type GatewayConfig struct {
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`
	Port   int    `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // optional proxy bearer key

	// JWTSecret, if set, makes the auth middleware also accept an
	// HS256-signed bearer JWT in addition to the static APIKey -- callers
	// get short-lived tokens instead of sharing the one long-lived key.
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`

	StoreDSN  string `json:"store_dsn,omitempty" yaml:"store_dsn,omitempty"`
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`

	Tools      map[string]ToolEntryConfig      `json:"tools,omitempty" yaml:"tools,omitempty"`
	Models     map[string]ModelConfig          `json:"models,omitempty" yaml:"models,omitempty"`
	Functions  map[string]FunctionEntryConfig  `json:"functions,omitempty" yaml:"functions,omitempty"`
	Metrics    map[string]MetricConfig         `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Embeddings map[string]EmbeddingModelConfig `json:"embeddings,omitempty" yaml:"embeddings,omitempty"`
}

// Manager loads, caches, and persists a GatewayConfig, mirroring the
// teacher's Manager: YAML takes precedence over JSON if both exist, and
// the last-loaded value is cached behind atomic.Value for concurrent reads
// without a lock.
type Manager struct {
	baseDir  string
	jsonPath string
	yamlPath string

	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

func (m *Manager) Load() (*GatewayConfig, error) {
	var cfg GatewayConfig
	var err error

	switch {
	case m.HasYAML():
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	case m.HasJSON():
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("no configuration file found (looked for %s or %s)", m.yamlPath, m.jsonPath)
	}

	m.applyDefaults(&cfg)
	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) loadYAML() (GatewayConfig, error) {
	var cfg GatewayConfig
	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) loadJSON() (GatewayConfig, error) {
	var cfg GatewayConfig
	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) applyDefaults(cfg *GatewayConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
}

// Get returns the cached config, loading it first if Load hasn't run yet.
// A failed load falls back to a host/port-only default rather than a nil
// config, matching the teacher's "never hand the caller a nil Manager
// result" behavior.
func (m *Manager) Get() *GatewayConfig {
	if v := m.configValue.Load(); v != nil {
		return v.(*GatewayConfig)
	}
	cfg, err := m.Load()
	if err != nil {
		return &GatewayConfig{Host: DefaultHost, Port: DefaultPort}
	}
	return cfg
}

func (m *Manager) Save(cfg *GatewayConfig) error {
	return m.SaveAsYAML(cfg)
}

func (m *Manager) SaveAsYAML(cfg *GatewayConfig) error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}
	if err := os.WriteFile(m.yamlPath, data, 0644); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}
	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) SaveAsJSON(cfg *GatewayConfig) error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}
	if err := os.WriteFile(m.jsonPath, data, 0644); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}
	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string { return m.yamlPath }
func (m *Manager) GetJSONPath() string { return m.jsonPath }

func (m *Manager) Exists() bool { return m.HasYAML() || m.HasJSON() }

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath)
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.jsonPath)
	return err == nil
}

// CreateExampleYAML writes a minimal runnable config: one dummy-backed
// model and one basic chat function, enough for a fresh checkout to start
// the server without a live provider credential.
func (m *Manager) CreateExampleYAML() error {
	cfg := &GatewayConfig{
		Host:      DefaultHost,
		Port:      DefaultPort,
		StoreDSN:  "relaygate.sqlite",
		RedisAddr: "127.0.0.1:6379",
		Models: map[string]ModelConfig{
			"example-model": {
				Routing: []string{"dummy"},
				Providers: map[string]ProviderInstanceConfig{
					"dummy": {Type: "dummy", ModelName: "echo"},
				},
			},
		},
		Functions: map[string]FunctionEntryConfig{
			"basic_chat": {
				Type: "chat",
				Variants: map[string]VariantEntryConfig{
					"v1": {Type: "chat_completion", Weight: 1, Model: "example-model"},
				},
			},
		},
	}
	return m.SaveAsYAML(cfg)
}
