package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clearmesh/clearmesh/internal/config"
)

func newInitCmd() *cobra.Command {
	var configPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
			}
			cfg := config.DefaultConfig()
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", configPath)
			fmt.Println("Set protocol.treasury_address, protocol.aggregator_address, and protocol.supported_assets before starting.")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to config file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}
