package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/yonasBSD/stract/pkg/config"
	"github.com/yonasBSD/stract/pkg/db"
	"github.com/yonasBSD/stract/pkg/storage"
)

// MigrateCommand creates the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Show migration status without applying migrations",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return RunMigrations(c.String("config"), c.Bool("status"))
		},
	}
}

// RunMigrations handles the migration process (exported for testing)
func RunMigrations(configPath string, statusOnly bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Printf("Warning: failed to close database: %v\n", err)
		}
	}()

	manager := db.NewMigrationManager(store.DB())

	if statusOnly {
		return showMigrationStatus(manager)
	}

	status, err := manager.GetMigrationStatus()
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	if len(status.Pending) == 0 {
		fmt.Println("Database is up to date, no pending migrations.")
		return nil
	}

	fmt.Printf("Applying %d pending migration(s)...\n", len(status.Pending))
	if err := manager.ApplyPendingMigrations(); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	fmt.Println("Migrations applied successfully.")
	return nil
}

func showMigrationStatus(manager *db.MigrationManager) error {
	status, err := manager.GetMigrationStatus()
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	fmt.Printf("Applied migrations: %d\n", len(status.Applied))
	for _, m := range status.Applied {
		applied := "unknown"
		if m.AppliedAt != nil {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  %03d %s (applied %s)\n", m.Version, m.Name, applied)
	}

	fmt.Printf("Pending migrations: %d\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Printf("  %03d %s\n", m.Version, m.Name)
	}

	return nil
}
