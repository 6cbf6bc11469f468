// Command migrate inspects and changes the ledger schema.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"editions/internal/config"
	"editions/internal/database"

	"gorm.io/gorm"
)

const usage = `usage: migrate <command>

commands:
  up              apply pending SQL migrations
  auto            run AutoMigrate (DB_SCHEMA_MODE=auto rules apply)
  status          show the schema plan and pending migrations
  down <version>  roll back one applied migration`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{})
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		return database.RunMigrations(ctx, db)
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		return database.ApplySchema(ctx, db, cfg)
	case "status":
		return printStatus(ctx, db, cfg)
	case "down":
		if len(args) < 2 {
			return errors.New("usage: migrate down <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		return database.RollbackMigration(ctx, db, version)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	status, err := database.GetSchemaStatus(ctx, db, cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "mode\t%s\n", status.Mode)
	fmt.Fprintf(w, "environment\t%s\n", status.Environment)
	fmt.Fprintf(w, "sql migrations\t%t\n", status.WillRunSQL)
	fmt.Fprintf(w, "automigrate\t%t\n", status.WillRunAutoMigrate)
	fmt.Fprintf(w, "applied\t%d\n", len(status.AppliedVersions))
	for _, m := range status.PendingMigrations {
		fmt.Fprintf(w, "pending\t%s\n", m)
	}
	return w.Flush()
}
