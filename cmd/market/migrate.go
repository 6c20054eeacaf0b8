package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"Betsy/internal/config"
	"Betsy/migrations"
	"Betsy/pkg/kit"
)

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrate: STORE=%s has no schema", cfg.Store)
	}

	log, err := kit.NewLogger(service, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := migrations.Open(c.Context, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	defer db.Close()

	provider, err := migrations.NewProvider(db)
	if err != nil {
		return fmt.Errorf("migrate: provider: %w", err)
	}

	if c.Bool("reset") {
		down, err := provider.DownTo(c.Context, 0)
		if err != nil {
			return fmt.Errorf("migrate: reset: %w", err)
		}
		log.Info("migrations rolled back", zap.Int("count", len(down)))
	}

	up, err := provider.Up(c.Context)
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	for _, r := range up {
		log.Info("migration applied", zap.String("source", r.Source.Path), zap.Duration("took", r.Duration))
	}

	version, err := provider.GetDBVersion(c.Context)
	if err != nil {
		return fmt.Errorf("migrate: version: %w", err)
	}
	log.Info("schema up to date", zap.Int64("version", version))
	return nil
}
