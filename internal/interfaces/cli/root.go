// Package cli defines the walctl command tree: serve, migrate, and version.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/WAL-Service/internal/config"
	"github.com/turtacn/WAL-Service/internal/infrastructure/database/postgres"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var configPath string

// NewRootCommand builds the walctl root command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "walctl",
		Short: "WAL ingestion service control",
		Long:  "walctl runs and manages the write-ahead log ingestion service.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (env-only when empty)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromEnv()
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WAL ingestion server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var opts []ServeOption
			if configPath != "" {
				opts = append(opts, WithConfigWatch(configPath))
			}
			return Serve(cmd.Context(), cfg, opts...)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back) namespace store migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := "file://" + cfg.Database.MigrationPath
			if down > 0 {
				return postgres.RollbackMigration(cfg.Database.DSN(), path, down)
			}
			return postgres.RunMigrations(cfg.Database.DSN(), path)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(Version)
		},
	}
}
