package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/migration"
	"github.com/relaygate/relaygate/internal/store"
)

// migrateCmd replaces the teacher's codeCmd slot: launching the Claude
// Code CLI against a proxy has no equivalent in a gateway that has no
// downstream CLI client to launch, while running C11's migrations is the
// operational verb every gateway deployment actually needs ahead of
// store.Open's own DDL-on-connect behavior.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long:  `Runs every registered migration against the configured store in order, same schema store.Open applies on connect, useful for deployments that want migrations run explicitly ahead of time.`,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	migrations := []migration.Migration{
		&migration.Migration0000{DB: st.DB()},
		&migration.Migration0001{DB: st.DB()},
	}

	if err := migration.Run(context.Background(), migrations, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	color.Green("Migrations applied successfully against %s", cfg.StoreDSN)
	return nil
}
