package main

import (
	"hostinv/config"
	"hostinv/internal/logs"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hostinv",
	Short: "Host inventory with IP pool allocation and an Ansible dynamic inventory",
	Long: `hostinv keeps hosts, Ansible groups and IP pools (VLANs).

Addresses of a pool are materialized when the pool is created; hosts take
addresses through reservation and assignment, and the inventory endpoint
renders everything as Ansible dynamic inventory JSON or YAML.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./hostinv.yaml or /etc/hostinv/hostinv.yaml)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig reads config and sets up logging for one-shot commands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logs.Init(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	return cfg, nil
}
