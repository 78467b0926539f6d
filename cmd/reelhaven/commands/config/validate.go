package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reelhaven/reelhaven/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the ReelHaven configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  reelhaven config validate

  # Validate specific config file
  reelhaven config validate --config /etc/reelhaven/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	// Load and validate configuration
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Additional validation checks
	var warnings []string

	if cfg.API.GetJWTSecret() == "" && !cfg.API.Auth.DevMode {
		warnings = append(warnings, "JWT secret not configured - the server will refuse to start")
	}
	if cfg.API.Auth.DevMode {
		warnings = append(warnings, "Dev mode is enabled - the X-Owner-ID header is trusted without a token")
	}
	if cfg.Blob.Type == "memory" {
		warnings = append(warnings, "Memory blob store configured - uploads will not survive a restart")
	}

	// Print results
	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Database type:   %s\n", cfg.Database.Type)
	fmt.Printf("  API port:        %d\n", cfg.API.Port)
	fmt.Printf("  Blob store:      %s\n", cfg.Blob.Type)
	fmt.Printf("  Queue:           %s\n", cfg.Queue.Type)
	fmt.Printf("  CAS:             %s\n", cfg.CAS.Type)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
