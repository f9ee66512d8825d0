package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/pinchy/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config file and report whether it parses",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("invalid config at %s: %w", path, err)
			}
			for _, a := range cfg.Agents {
				if a.ID == "" {
					return fmt.Errorf("%s: agent with empty id", path)
				}
				if a.Model != "" && cfg.ResolveModel(a.Model) == nil {
					return fmt.Errorf("%s: agent %q references unknown model %q", path, a.ID, a.Model)
				}
				for _, fb := range a.FallbackModels {
					if cfg.ResolveModel(fb) == nil {
						return fmt.Errorf("%s: agent %q references unknown fallback model %q", path, a.ID, fb)
					}
				}
				if a.HeartbeatSecs != nil && *a.HeartbeatSecs < 1 {
					return fmt.Errorf("%s: agent %q heartbeat_secs must be >= 1", path, a.ID)
				}
			}
			fmt.Printf("%s: ok (%d models, %d agents)\n", path, len(cfg.Models), len(cfg.Agents))
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config after env overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}
