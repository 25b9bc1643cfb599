package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		databaseURL    = flag.String("database", "", "Postgres URL (falls back to DB_URL)")
		migrationsPath = flag.String("path", "migrations", "path to the migrations directory")
		command        = flag.String("command", "up", "up, down, version or force <version>")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *databaseURL == "" {
		*databaseURL = os.Getenv("DB_URL")
	}
	if *databaseURL == "" {
		logger.Error("database URL is required: use -database or DB_URL")
		os.Exit(2)
	}

	logger.Info("migrate.start", "path", *migrationsPath, "command", *command)
	m, err := migrate.New(fmt.Sprintf("file://%s", *migrationsPath), *databaseURL)
	if err != nil {
		logger.Error("migrate.init.failed", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := run(m, *command, flag.Args(), logger); err != nil {
		logger.Error("migrate.failed", "command", *command, "error", err)
		m.Close()
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, command string, args []string, logger *slog.Logger) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("migrate.up.no_change")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migrate.up.done")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("migrate.down.done")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("migrate.version", "version", "none")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migrate.version", "version", version, "dirty", dirty)
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version: -command force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		logger.Info("migrate.force.done", "version", version)
	default:
		return fmt.Errorf("unknown command %q (use: up, down, version, force)", command)
	}
	return nil
}
