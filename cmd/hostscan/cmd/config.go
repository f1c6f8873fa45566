package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/hostscan/internal/checks"
	"github.com/psantana5/hostscan/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Commands for inspecting and generating hostscan configuration files.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (defaults, file, env and flags merged)",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.EffectiveYAML(v)
		if err != nil {
			return err
		}
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Printf("# loaded from %s\n", used)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an annotated example configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(config.ExampleYAML)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration, including tier check lists",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := checks.NewRegistry(checks.Builtin(nil, cfg.Query.Timeout), cfg.Membership()); err != nil {
			return fmt.Errorf("invalid check configuration: %w", err)
		}
		fmt.Println("✓ Configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configExampleCmd)
	configCmd.AddCommand(configValidateCmd)
}
