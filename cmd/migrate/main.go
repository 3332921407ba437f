// Package main provides the schema migration tool for the record store.
// Migrations live in ./migrations and are tracked in schema_migrations.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/fieldgate/backend/internal/config"
	"github.com/fieldgate/backend/internal/logger"
)

// Version is set at build time
var Version = "dev"

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultMigrationsPath   = "migrations"
)

// options holds the parsed command line
type options struct {
	databaseURL    string
	migrationsPath string
	timeout        time.Duration
	dryRun         bool
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())

	var (
		migrPath = flag.String("path", envOr("MIGRATIONS_PATH", defaultMigrationsPath), "Path to migrations directory")
		timeout  = flag.Duration("timeout", defaultMigrationTimeout, "Timeout per migration")
		dryRun   = flag.Bool("dry-run", false, "Show what would be done without executing")
		version  = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Roll back all or N migrations\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nConnection settings come from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and DB_SSLMODE.\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	opts := &options{
		databaseURL:    cfg.Database.URL(),
		migrationsPath: *migrPath,
		timeout:        *timeout,
		dryRun:         *dryRun,
	}

	if err := runCommand(log, opts, args[0], args[1:]); err != nil {
		log.Error("migration command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func runCommand(log *slog.Logger, opts *options, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(log, opts, args[0])
	case "version":
		return withMigrate(opts, func(m *migrate.Migrate) error {
			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Info("no migrations have been applied yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			log.Info("current migration version", "version", v, "dirty", dirty)
			return nil
		})
	case "up", "down":
		steps, err := optionalInt(args)
		if err != nil {
			return err
		}
		return migrateSteps(log, opts, cmd, steps)
	case "force":
		v, err := optionalInt(args)
		if err != nil || len(args) == 0 {
			return errors.New("force requires a version number")
		}
		if opts.dryRun {
			log.Info("dry run: would force version", "version", v)
			return nil
		}
		return withMigrate(opts, func(m *migrate.Migrate) error {
			if err := m.Force(v); err != nil {
				return fmt.Errorf("force: %w", err)
			}
			log.Info("version forced", "version", v)
			return nil
		})
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func optionalInt(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", args[0])
	}
	return n, nil
}

// migrateSteps applies all migrations in direction, or steps of them
func migrateSteps(log *slog.Logger, opts *options, direction string, steps int) error {
	if opts.dryRun {
		log.Info("dry run: would migrate", "direction", direction, "steps", steps)
		return nil
	}

	return withMigrate(opts, func(m *migrate.Migrate) error {
		from, _, _ := m.Version()

		var err error
		switch {
		case steps > 0 && direction == "up":
			err = m.Steps(steps)
		case steps > 0:
			err = m.Steps(-steps)
		case direction == "up":
			err = m.Up()
		default:
			err = m.Down()
		}

		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no migrations to apply", "direction", direction)
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", direction, err)
		}

		to, _, _ := m.Version()
		log.Info("migration completed", "direction", direction, "from", from, "to", to)
		return nil
	})
}

// createMigration writes an empty up/down pair with the next sequence number
func createMigration(log *slog.Logger, opts *options, name string) error {
	next, err := nextMigrationNumber(opts.migrationsPath)
	if err != nil {
		return fmt.Errorf("determine next migration number: %w", err)
	}

	upFile := filepath.Join(opts.migrationsPath, fmt.Sprintf("%06d_%s.up.sql", next, name))
	downFile := filepath.Join(opts.migrationsPath, fmt.Sprintf("%06d_%s.down.sql", next, name))

	if opts.dryRun {
		log.Info("dry run: would create migration", "up", upFile, "down", downFile)
		return nil
	}

	if err := os.MkdirAll(opts.migrationsPath, 0o755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}
	header := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n", name, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(upFile, []byte(header), 0o644); err != nil {
		return fmt.Errorf("create up migration: %w", err)
	}
	if err := os.WriteFile(downFile, []byte(header), 0o644); err != nil {
		return fmt.Errorf("create down migration: %w", err)
	}

	log.Info("created migration files", "up", upFile, "down", downFile)
	return nil
}

func nextMigrationNumber(migrationsPath string) (int, error) {
	entries, err := os.ReadDir(migrationsPath)
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	highest := 0
	for _, entry := range entries {
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil && num > highest {
			highest = num
		}
	}
	return highest + 1, nil
}

// withMigrate opens the database, runs fn and closes everything
func withMigrate(opts *options, fn func(m *migrate.Migrate) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		db.Close()
		return fmt.Errorf("create database driver: %w", err)
	}

	path, err := filepath.Abs(opts.migrationsPath)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()
	m.LockTimeout = opts.timeout

	return fn(m)
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
