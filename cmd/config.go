package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway's model, function, and variant configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for a single model and a basic chat function.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate example YAML configuration",
	Long:  `Generate an example YAML configuration file with a single dummy-provider model and function.`,
	RunE:  runConfigGenerate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().BoolP("force", "f", false, "Overwrite existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("relaygate Configuration Setup")
	color.Yellow("Follow the prompts to configure a model and a basic_chat function.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nProvider type (e.g., anthropic, openai, dummy): ")
	providerType, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading provider type: %w", err)
	}
	providerType = strings.TrimSpace(providerType)

	fmt.Print("Model name at that provider (e.g., claude-3-5-sonnet-20241022): ")
	modelName, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading model name: %w", err)
	}
	modelName = strings.TrimSpace(modelName)

	fmt.Print("API key env var (e.g., ANTHROPIC_API_KEY): ")
	envVar, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading env var: %w", err)
	}
	envVar = strings.TrimSpace(envVar)

	fmt.Print("Gateway API key (optional, for authenticating callers): ")
	apiKey, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading gateway API key: %w", err)
	}
	apiKey = strings.TrimSpace(apiKey)

	const modelKey = "default"
	cfg := &config.GatewayConfig{
		Host:   config.DefaultHost,
		Port:   config.DefaultPort,
		APIKey: apiKey,
		Models: map[string]config.ModelConfig{
			modelKey: {
				Routing: []string{providerType},
				Providers: map[string]config.ProviderInstanceConfig{
					providerType: {Type: providerType, ModelName: modelName, APIKeyEnvVar: envVar},
				},
			},
		},
		Functions: map[string]config.FunctionEntryConfig{
			"basic_chat": {
				Type: "chat",
				Variants: map[string]config.VariantEntryConfig{
					"v1": {Type: "chat_completion", Weight: 1, Model: modelKey},
				},
			},
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: relaygate start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'relaygate config init' or 'relaygate config generate' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Store DSN", cfg.StoreDSN)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	configType := "JSON"
	if cfgMgr.HasYAML() {
		configType = "YAML"
	}
	fmt.Printf("  %-15s: %s\n", "Format", configType)

	fmt.Println("\nModels:")
	for name, m := range cfg.Models {
		fmt.Printf("  - %s (routing: %v)\n", name, m.Routing)
		for providerName, p := range m.Providers {
			fmt.Printf("      %s: type=%s model=%s key_env=%s\n", providerName, p.Type, p.ModelName, p.APIKeyEnvVar)
		}
	}

	fmt.Println("\nFunctions:")
	for name, fn := range cfg.Functions {
		fmt.Printf("  - %s (%s)\n", name, fn.Type)
		for variantName, v := range fn.Variants {
			fmt.Printf("      %s: type=%s weight=%g model=%s\n", variantName, v.Type, v.Weight, v.Model)
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var validationErrors []string

	if len(cfg.Models) == 0 {
		validationErrors = append(validationErrors, "no models configured")
	}
	for name, m := range cfg.Models {
		if len(m.Routing) == 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("model %q: routing list is empty", name))
		}
		for _, providerName := range m.Routing {
			if _, ok := m.Providers[providerName]; !ok {
				validationErrors = append(validationErrors, fmt.Sprintf("model %q: routing references undefined provider %q", name, providerName))
			}
		}
	}

	if len(cfg.Functions) == 0 {
		validationErrors = append(validationErrors, "no functions configured")
	}
	for name, fn := range cfg.Functions {
		if len(fn.Variants) == 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("function %q: no variants configured", name))
		}
	}

	// Compiling the runtime exercises the same checks internal/config.FunctionLoader
	// performs at startup (unknown tools, dangling best_of_n references, dicl
	// without a redis client), surfacing them here rather than at first request.
	loader := &config.FunctionLoader{BaseDir: baseDir}
	if _, err := loader.Load(cfg); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}

	if len(validationErrors) > 0 {
		color.Red("Configuration validation failed:")
		for _, e := range validationErrors {
			fmt.Printf("  - %s\n", e)
		}
		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if cfgMgr.Exists() && !force {
		configType := "JSON"
		if cfgMgr.HasYAML() {
			configType = "YAML"
		}

		color.Yellow("Configuration file already exists (%s format): %s", configType, cfgMgr.GetPath())
		color.Cyan("Use --force to overwrite, or 'relaygate config show' to view current config")

		return nil
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example YAML configuration created: %s", cfgMgr.GetYAMLPath())
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit the configuration file to point models at real providers and API keys")
	fmt.Println("2. Add functions/variants for your own use case")
	fmt.Println("3. Run 'relaygate config validate' to check your configuration")
	fmt.Println("4. Start the gateway with 'relaygate start'")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
