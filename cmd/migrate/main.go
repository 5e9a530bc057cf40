package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/gavelworks/marketplace-backend/internal/infrastructure/config"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, version")
		sourceDir  = flag.String("source", "file://migrations", "Migration source URL")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Storage.Driver != "postgres" {
		logger.Error("migrations require the postgres storage driver")
		os.Exit(1)
	}

	m, err := migrate.New(*sourceDir, cfg.Storage.URL)
	if err != nil {
		logger.Error("failed to initialize migrator", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	switch *action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.Error("failed to read version", slog.Any("error", verr))
			os.Exit(1)
		}
		logger.Info("schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return
	default:
		logger.Error("unknown action", slog.String("action", *action))
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", slog.String("action", *action), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migration complete", slog.String("action", *action))
}
