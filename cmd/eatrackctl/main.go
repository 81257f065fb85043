// Command eatrackctl is the operator CLI: it runs migrations, provisions trading
// accounts, issues dashboard tokens and refreshes cached EA statistics.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ksred/eatrack/internal/config"
	"github.com/ksred/eatrack/internal/database"
)

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	zlog.Logger = zerolog.New(output).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// rootConfig is shared by every subcommand
type rootConfig struct {
	configPath string
	dbPath     string

	cfg *config.Config
}

func (rc *rootConfig) load() error {
	cfg, err := config.Load(rc.configPath)
	if err != nil {
		return err
	}
	if rc.dbPath != "" {
		cfg.DBPath = rc.dbPath
	}
	rc.cfg = cfg
	return nil
}

func (rc *rootConfig) openDB() (*gorm.DB, error) {
	db, err := database.NewDatabase(rc.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", rc.cfg.DBPath, err)
	}
	return db, nil
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:           "eatrackctl",
		Short:         "Administer the EA tracking server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rc.load()
		},
	}

	cmd.PersistentFlags().StringVar(&rc.configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	cmd.PersistentFlags().StringVar(&rc.dbPath, "db", "", "override the database path")

	cmd.AddCommand(
		newMigrateCmd(rc),
		newAccountCmd(rc),
		newTokenCmd(rc),
		newEACmd(rc),
	)
	return cmd
}

func newMigrateCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rc.openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			zlog.Info().Str("db_path", rc.cfg.DBPath).Msg("database migrated")
			return nil
		},
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		zlog.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
