// Command migrate manages the recognition schema. The server never migrates
// on start; deployments run `migrate up` followed by `migrate verify`.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/freight/recognition/internal/infrastructure/config"
	"github.com/freight/recognition/internal/infrastructure/logger"
	"github.com/freight/recognition/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const usage = `Recognition schema migrations

Usage:
  migrate [flags] <command> [arguments]

Commands that need a database:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (negative rolls back)
  version               Print the applied version
  force <version>       Set the version without running SQL (repairs a dirty schema)
  verify                Check the recognition tables and the append-only posting trigger

Offline commands:
  create <name> [desc]  Write a new up/down pair into -path
  list                  List the migrations of -path, or the embedded set

Flags:
  -path string          Migrations directory (default: the embedded migrations)
  -log-level string     debug, info, warn or error (default: info)

The database is configured like the server: config.toml plus REC_DATABASE_* overrides.`

// dbCommand runs against an open migrator and database
type dbCommand struct {
	args int
	run  func(ctx context.Context, m *migration.Migrator, db *sql.DB, args []string, log *zap.Logger) error
}

var dbCommands = map[string]dbCommand{
	"up": {run: func(_ context.Context, m *migration.Migrator, _ *sql.DB, _ []string, _ *zap.Logger) error {
		return m.Up()
	}},
	"down": {run: func(_ context.Context, m *migration.Migrator, _ *sql.DB, _ []string, _ *zap.Logger) error {
		return m.Down()
	}},
	"step": {args: 1, run: func(_ context.Context, m *migration.Migrator, _ *sql.DB, args []string, _ *zap.Logger) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid step count %q", args[0])
		}
		return m.Steps(n)
	}},
	"force": {args: 1, run: func(_ context.Context, m *migration.Migrator, _ *sql.DB, args []string, _ *zap.Logger) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return m.Force(version)
	}},
	"version": {run: func(_ context.Context, m *migration.Migrator, _ *sql.DB, _ []string, log *zap.Logger) error {
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	}},
	"verify": {run: func(ctx context.Context, _ *migration.Migrator, db *sql.DB, _ []string, log *zap.Logger) error {
		if err := migration.VerifySchema(ctx, db); err != nil {
			return err
		}
		log.Info("Schema verified", zap.Strings("tables", migration.RecognitionTables))
		return nil
	}},
}

func main() {
	migrationsPath := flag.String("path", "", "Migrations directory (default: the embedded migrations)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, rest := args[0], args[1:]

	log, err := logger.New(&logger.Config{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.DateTime,
	}, "recognition-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	switch command {
	case "create":
		if err := create(*migrationsPath, rest, log); err != nil {
			log.Fatal("Failed to create migration", zap.Error(err))
		}
		return
	case "list":
		list, err := migration.ListMigrations(migration.Source(*migrationsPath))
		if err != nil {
			log.Fatal("Failed to list migrations", zap.Error(err))
		}
		for _, name := range list {
			fmt.Println(name)
		}
		return
	}

	cmd, ok := dbCommands[command]
	if !ok {
		log.Error("Unknown command", zap.String("command", command))
		flag.Usage()
		os.Exit(2)
	}
	if len(rest) < cmd.args {
		log.Fatal("Missing argument", zap.String("command", command))
	}

	if err := runDB(command, cmd, *migrationsPath, rest, log); err != nil {
		log.Fatal("Migration command failed", zap.String("command", command), zap.Error(err))
	}
}

func create(dir string, args []string, log *zap.Logger) error {
	if dir == "" {
		return fmt.Errorf("create writes files and needs -path")
	}
	if len(args) == 0 {
		return fmt.Errorf("migration name required")
	}
	description := ""
	if len(args) > 1 {
		description = args[1]
	}
	mf, err := migration.CreateMigration(dir, args[0], description)
	if err != nil {
		return err
	}
	log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func runDB(name string, cmd dbCommand, dir string, args []string, log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database %s: %w", cfg.Database.Host, err)
	}

	m, err := migration.New(db, migration.Source(dir), log)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	log.Info("Running migration command", zap.String("command", name), zap.String("path", dir))
	return cmd.run(ctx, m, db, args, log)
}
