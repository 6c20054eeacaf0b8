package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"Betsy/internal/catalog"
	"Betsy/internal/config"
	"Betsy/internal/market"
	"Betsy/internal/seed"
	"Betsy/pkg/kit"
)

const service = "market"

func main() {
	app := &cli.App{
		Name:  service,
		Usage: "Betsy marketplace backend",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "reset", Usage: "roll every migration back before applying"},
				},
				Action: migrate,
			},
			{
				Name:   "seed",
				Usage:  "insert demo users, products, tags and purchases",
				Action: seedStore,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg   config.Config
	log   *zap.Logger
	store catalog.Store
	close func()
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := kit.NewLogger(service, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	e := &env{cfg: cfg, log: log, close: func() { _ = log.Sync() }}

	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store; data is lost on exit")
		e.store = catalog.NewMemStore()
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		log.Info("database connection established")
		e.store = catalog.NewPostgresStore(pool)
		e.close = func() {
			pool.Close()
			_ = log.Sync()
		}
	}

	return e, nil
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := market.NewService(e.store, e.log, market.NewMetrics(reg))
	h := market.NewHandler(&market.Server{Svc: svc, Log: e.log}, market.HTTPDeps{
		Log:            e.log,
		Service:        service,
		Registry:       reg,
		MetricsEnabled: e.cfg.MetricsToken != "",
		MetricsToken:   e.cfg.MetricsToken,
		PurchaseLimit:  e.cfg.PurchaseRateLimit,
	})

	if e.cfg.Store == config.StoreMemory {
		if _, err := seed.Populate(ctx, svc); err != nil {
			return err
		}
		e.log.Info("in-memory store seeded")
	}

	if err := kit.RunHTTPServer(ctx, e.cfg.Addr(), h, e.log); err != nil {
		e.log.Error("http server stopped", zap.Error(err))
		return err
	}
	return nil
}

func seedStore(c *cli.Context) error {
	e, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := seed.Populate(c.Context, market.NewService(e.store, e.log, nil))
	if err != nil {
		return err
	}
	e.log.Info("seeded",
		zap.Int64s("user_ids", res.UserIDs),
		zap.Int64s("product_ids", res.ProductIDs),
		zap.Int64s("transaction_ids", res.TransactionIDs),
	)
	return nil
}
