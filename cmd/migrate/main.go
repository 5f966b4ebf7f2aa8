package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/davidleathers/performance-control-loop/internal/infrastructure/config"
	"github.com/davidleathers/performance-control-loop/internal/infrastructure/database"
	"github.com/davidleathers/performance-control-loop/internal/infrastructure/telemetry"
)

const migrationsDir = "internal/infrastructure/database/migrations"

// schemaMigrator is satisfied by *database.Migrator.
type schemaMigrator interface {
	Up(n int) error
	Down(n int) error
	Version() (uint, bool, error)
	Close() error
}

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath, "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, status, create")
		name       = flag.String("name", "", "Migration name (for create action)")
		steps      = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		dir        = flag.String("dir", migrationsDir, "Migrations directory (for create action)")
	)
	flag.Parse()

	if *action == "create" {
		if *name == "" {
			slog.Error("migration name is required for create action")
			os.Exit(1)
		}
		files, err := create(*dir, *name, time.Now())
		if err != nil {
			slog.Error("failed to create migration", "error", err)
			os.Exit(1)
		}
		for _, f := range files {
			slog.Info("created migration", "file", f)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	m, err := database.NewMigrator(cfg.Database.URL, logger)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := run(m, *action, *steps, os.Stdout); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(m schemaMigrator, action string, steps int, out io.Writer) error {
	if steps < 0 {
		return fmt.Errorf("steps must not be negative")
	}
	switch action {
	case "up":
		return m.Up(steps)
	case "down":
		return m.Down(steps)
	case "status":
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Schema version: %d\n", v)
		if dirty {
			fmt.Fprintln(out, "State: dirty (a migration failed part way; fix and force the version)")
		} else {
			fmt.Fprintln(out, "State: clean")
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

var migrationName = regexp.MustCompile(`^[a-z0-9_]+$`)

// create writes an empty up/down pair named with a timestamp version, the
// layout golang-migrate reads.
func create(dir, name string, now time.Time) ([]string, error) {
	if !migrationName.MatchString(name) {
		return nil, fmt.Errorf("migration name %q must be lower snake case", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	version := now.UTC().Format("20060102150405")
	var files []string
	for _, direction := range []string{"up", "down"} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s.sql", version, name, direction))
		content := fmt.Sprintf("-- Migration: %s (%s)\n-- Created at: %s\n\n", name, direction, now.UTC().Format(time.RFC3339))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("failed to create migration file: %w", err)
		}
		files = append(files, path)
	}
	return files, nil
}
