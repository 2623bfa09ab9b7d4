package cmd

import (
	"fmt"

	"github.com/javi11/plansync/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE:  runConfigShow,
	}

	checkCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE:  runConfigValidate,
	}

	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	// API key is a credential, keep it out of terminal output
	redacted := *cfg
	if redacted.API.APIKey != "" {
		redacted.API.APIKey = "***"
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration OK")
	fmt.Printf("  api base url:      %s\n", cfg.API.BaseURL)
	fmt.Printf("  database path:     %s\n", cfg.Database.Path)
	fmt.Printf("  images dir:        %s\n", cfg.Images.Dir)
	fmt.Printf("  validate interval: %s\n", cfg.GetValidateInterval())
	return nil
}
