package db

import (
	"fmt"
	"io"
	"io/fs"
)

// RunMigrateCommand handles the 'migrate' subcommand. It opens dbPath
// without initialising the schema so the migrations alone manage it.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	action := args[0]
	if action == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "All migrations applied")
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rolled back one migration")
	case "status":
	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
	return printMigrateStatus(w, database, migrations)
}

func printMigrateStatus(w io.Writer, database *DB, migrations fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	fmt.Fprintf(w, "Current version: %d\n", version)
	fmt.Fprintf(w, "Latest available: %d\n", latest)
	fmt.Fprintf(w, "Dirty: %v\n", dirty)
	switch {
	case dirty:
		fmt.Fprintln(w, "WARNING: a migration failed mid-execution; inspect the database before continuing")
	case version < latest:
		fmt.Fprintf(w, "Database is %d version(s) behind; run 'capture migrate up'\n", latest-version)
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Database Migration Commands

Usage: capture migrate <command> [-db path]

Commands:
  up        Apply all pending migrations
  down      Roll back one migration
  status    Show current migration version
  help      Show this help message
`)
}
