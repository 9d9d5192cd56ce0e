package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/ragtrust/internal/ablation"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage RAGTrust configuration",
	Long: `Manage RAGTrust configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (RAGTRUST_*, e.g. RAGTRUST_POISONING_RATE)
3. Config file (~/.ragtrust/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the resolved configuration after defaults, config file and environment variables are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println("  Current Configuration")
		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println()

		// Keys are never echoed
		cfg.Providers.APIKey = ""
		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Println(string(yamlData))

		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println()
		fmt.Println("Configuration hierarchy (highest to lowest priority):")
		fmt.Println("  1. CLI flags")
		fmt.Println("  2. Environment variables (RAGTRUST_*, OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY)")
		fmt.Println("  3. Config file (~/.ragtrust/config.yaml)")
		fmt.Println("  4. Defaults")
		fmt.Println()
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.ragtrust/config.yaml and an ablation rules file next to it.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		dir, err := configDir()
		if err != nil {
			return err
		}
		configPath := filepath.Join(dir, "config.yaml")
		rulesPath := filepath.Join(dir, "rules.toml")

		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'ragtrust config show' to view it, or delete it first to recreate", configPath)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Providers.APIKey = ""
		cfg.Ablation.RulesFile = rulesPath

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}

		header := "# RAGTrust Configuration File\n" +
			"#\n" +
			"# Configuration hierarchy (highest to lowest priority):\n" +
			"#   1. CLI flags\n" +
			"#   2. Environment variables (RAGTRUST_*)\n" +
			"#   3. This config file\n" +
			"#   4. Built-in defaults\n" +
			"#\n" +
			"# API keys are best kept in the environment or a .env file:\n" +
			"#   OPENAI_API_KEY=sk-...\n" +
			"#   ANTHROPIC_API_KEY=sk-ant-...\n" +
			"#   GOOGLE_API_KEY=...\n" +
			"#   OLLAMA_BASE_URL=http://localhost:11434\n\n"
		if err := os.WriteFile(configPath, append([]byte(header), yamlData...), 0o644); err != nil {
			return fmt.Errorf("error writing config: %w", err)
		}

		if _, statErr := os.Stat(rulesPath); os.IsNotExist(statErr) {
			if err := writeRules(rulesPath); err != nil {
				return err
			}
		}

		fmt.Printf("✓ Created default configuration: %s\n", configPath)
		fmt.Printf("✓ Ablation rules: %s\n", rulesPath)
		fmt.Printf("\nTo view the configuration:\n")
		fmt.Printf("  ragtrust config show\n")
		fmt.Printf("\nTo customize, edit the file with your preferred editor:\n")
		fmt.Printf("  $EDITOR %s\n", configPath)
		fmt.Printf("\n")
		return nil
	},
}

// writeRules writes the default ablation rules as TOML
func writeRules(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create rules file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close rules file: %w", closeErr)
		}
	}()
	return ablation.EncodeRules(f, ablation.DefaultRules())
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
