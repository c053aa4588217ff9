package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"appforge/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the config path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists at %s", configPath)
			}
			if err := config.Save(config.DefaultConfig(), configPath); err != nil {
				return err
			}
			fmt.Printf("CONFIG WRITTEN: %s\n", configPath)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("Config: %s\n", configPath)
			fmt.Printf("  Checkpoint backend: %s\n", cfg.Checkpoint.Backend)
			fmt.Printf("  Health store: %s\n", cfg.Health.DBPath)
			if cfg.Events.NATSURL != "" {
				fmt.Printf("  NATS: %s\n", cfg.Events.NATSURL)
			}
			fmt.Printf("  Engine: %d in flight, %ds task timeout\n", cfg.Engine.MaxInFlight, cfg.Engine.TaskTimeout)
			fmt.Printf("  Providers: %d\n", len(cfg.Providers))
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
