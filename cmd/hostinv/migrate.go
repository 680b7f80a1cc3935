package main

import (
	"hostinv/internal/db"
	"hostinv/internal/logs"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, db.Options{Debug: cfg.Database.Debug})
		if err != nil {
			return err
		}
		defer db.Close(d)
		if err := db.Migrate(d); err != nil {
			return err
		}
		logs.Logger.Infof("schema is up to date (%s)", cfg.Database.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
