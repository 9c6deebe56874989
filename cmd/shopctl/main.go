package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/storefront-orders/internal/cli"
	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	open := func(ctx context.Context, dsn string) (*cli.Backend, error) {
		db, err := postgres.Connect(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		svc, err := orders.NewService(orders.Deps{
			Store:         &orders.Repo{DB: db},
			Logger:        logger.Named("orders"),
			DefaultSizeID: cfg.DefaultSizeID,
			ServiceName:   "shopctl",
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		return &cli.Backend{DB: db, Stock: svc, Close: db.Close}, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open, cfg.PostgresDSN).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
