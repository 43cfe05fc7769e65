package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/jayusctrojan/Empire-sub002/internal/config"
	"github.com/jayusctrojan/Empire-sub002/internal/database"
)

// MigrateCommand returns the CLI command for applying the database schema
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply the coordination database schema",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dbURL := cfg.Database.URL
	if dbURL == "" {
		dbURL, err = database.ResolveURL()
		if err != nil {
			return err
		}
	}

	db, err := database.NewDB(dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(c.Context, db); err != nil {
		return err
	}

	fmt.Println("Schema applied")
	return nil
}
