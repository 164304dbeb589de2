package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_YAML_Support(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	yamlConfig := `
host: "0.0.0.0"
port: 8080
api_key: "test-proxy-key"
models:
  claude:
    routing: ["anthropic"]
    providers:
      anthropic:
        type: anthropic
        model_name: claude-3.5-sonnet
        api_key_env_var: ANTHROPIC_API_KEY
  gpt4:
    routing: ["openai"]
    providers:
      openai:
        type: openai
        model_name: gpt-4o
functions:
  basic_chat:
    type: chat
    variants:
      v1:
        type: chat_completion
        weight: 1
        model: claude
`

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	err := os.WriteFile(yamlPath, []byte(yamlConfig), 0644)
	require.NoError(t, err)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "test-proxy-key", cfg.APIKey)

	require.Len(t, cfg.Models, 2)
	claude := cfg.Models["claude"]
	assert.Equal(t, []string{"anthropic"}, claude.Routing)
	assert.Equal(t, "claude-3.5-sonnet", claude.Providers["anthropic"].ModelName)
	assert.Equal(t, "ANTHROPIC_API_KEY", claude.Providers["anthropic"].APIKeyEnvVar)

	gpt4 := cfg.Models["gpt4"]
	assert.Equal(t, "openai", gpt4.Providers["openai"].Type)

	require.Contains(t, cfg.Functions, "basic_chat")
	assert.Equal(t, "chat", cfg.Functions["basic_chat"].Type)
	assert.Equal(t, "claude", cfg.Functions["basic_chat"].Variants["v1"].Model)
}

func TestManager_YAML_Takes_Precedence(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	jsonConfig := `{
		"host": "127.0.0.1",
		"port": 6970,
		"api_key": "json-key"
	}`

	yamlConfig := `
host: "0.0.0.0"
port: 8080
api_key: "yaml-key"
`

	jsonPath := filepath.Join(tempDir, DefaultConfigFilename)
	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)

	err := os.WriteFile(jsonPath, []byte(jsonConfig), 0644)
	require.NoError(t, err)

	err = os.WriteFile(yamlPath, []byte(yamlConfig), 0644)
	require.NoError(t, err)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "yaml-key", cfg.APIKey)
}

func TestManager_SaveAsYAML(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	cfg := &GatewayConfig{
		Host:   "127.0.0.1",
		Port:   7000,
		APIKey: "test-key",
		Models: map[string]ModelConfig{
			"claude": {
				Routing: []string{"anthropic"},
				Providers: map[string]ProviderInstanceConfig{
					"anthropic": {Type: "anthropic", ModelName: "claude-3.5-sonnet"},
				},
			},
		},
	}

	err := mgr.SaveAsYAML(cfg)
	require.NoError(t, err)

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	assert.FileExists(t, yamlPath)

	loadedCfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, cfg.Host, loadedCfg.Host)
	assert.Equal(t, cfg.Port, loadedCfg.Port)
	assert.Equal(t, cfg.APIKey, loadedCfg.APIKey)
	assert.Equal(t, cfg.Models["claude"].Routing, loadedCfg.Models["claude"].Routing)
	assert.Equal(t, cfg.Models["claude"].Providers["anthropic"].ModelName, loadedCfg.Models["claude"].Providers["anthropic"].ModelName)
}

func TestManager_CreateExampleYAML(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	err := mgr.CreateExampleYAML()
	require.NoError(t, err)

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	assert.FileExists(t, yamlPath)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)

	require.Contains(t, cfg.Models, "example-model")
	exampleModel := cfg.Models["example-model"]
	assert.Equal(t, []string{"dummy"}, exampleModel.Routing)
	assert.Equal(t, "dummy", exampleModel.Providers["dummy"].Type)

	require.Contains(t, cfg.Functions, "basic_chat")
	assert.Equal(t, "chat", cfg.Functions["basic_chat"].Type)
}

func TestManager_DefaultsApplication(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	yamlConfig := `
models:
  claude:
    routing: ["anthropic"]
    providers:
      anthropic:
        type: anthropic
        model_name: claude-3.5-sonnet
`

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	err := os.WriteFile(yamlPath, []byte(yamlConfig), 0644)
	require.NoError(t, err)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestManager_FileDetection(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	assert.False(t, mgr.Exists())
	assert.False(t, mgr.HasYAML())
	assert.False(t, mgr.HasJSON())

	jsonPath := filepath.Join(tempDir, DefaultConfigFilename)
	err := os.WriteFile(jsonPath, []byte(`{"host": "127.0.0.1"}`), 0644)
	require.NoError(t, err)

	assert.True(t, mgr.Exists())
	assert.False(t, mgr.HasYAML())
	assert.True(t, mgr.HasJSON())
	assert.Equal(t, jsonPath, mgr.GetPath())

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	err = os.WriteFile(yamlPath, []byte(`host: "0.0.0.0"`), 0644)
	require.NoError(t, err)

	assert.True(t, mgr.Exists())
	assert.True(t, mgr.HasYAML())
	assert.True(t, mgr.HasJSON())
	assert.Equal(t, yamlPath, mgr.GetPath())
}
