package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/miroir/internal/shared"
)

// SetupInit writes the example configuration to the --config path.
func (r *Runner) SetupInit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	r.writePlain("✓ Configuration written to %s\n", path)
	r.writePlainln("Next steps:")
	r.writePlain("1. Set cache.version and server.origin for your deployment\n")
	r.writePlain("2. Run 'miroir setup database' to create the stores\n")
	return nil
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	path := r.config.Database.Path
	r.logger.Info("initializing database", "path", path)

	db, err := shared.NewDatabase(path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", path)
	r.writePlain("✓ Database ready at %s\n", path)
	return nil
}

// SetupStatus lists known migrations.
func (r *Runner) SetupStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	statuses, err := shared.Migrations(db)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(statuses, true)
	}

	r.writePlainHeader("Migrations: " + r.config.Database.Path)
	for _, s := range statuses {
		mark := "pending"
		if s.Applied {
			mark = "applied"
		}
		r.writePlain("%03d  %-32s %s\n", s.Version, s.Name, mark)
	}
	return nil
}

// SetupRollback reverts the most recent migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := shared.RollbackMigration(db); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	r.writePlain("✓ Rolled back the latest migration\n")
	return nil
}
