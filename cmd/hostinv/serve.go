package main

import (
	"hostinv/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var app server.App
		if err := app.Initialize(cfg); err != nil {
			return err
		}
		return app.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
