package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payments"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, one per process for every order topic
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("producer"))
	prod.Start(ctx)

	// Payment provider; checkout and webhooks answer 502 without one
	var provider payments.Provider
	if cfg.StripeSecretKey != "" {
		sp, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.StripeSecretKey,
			Logger: logger.Named("stripe"),
		})
		if err != nil {
			logger.Fatal("stripe provider", zap.Error(err))
		}
		provider = sp
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, payment provider disabled")
	}

	svc, err := orders.NewService(orders.Deps{
		Store:              &orders.Repo{DB: db},
		Provider:           provider,
		Events:             prod,
		Logger:             logger.Named("orders"),
		DefaultSizeID:      cfg.DefaultSizeID,
		CancellationWindow: cfg.CancellationWindow,
		Currency:           cfg.Currency,
		ServiceName:        cfg.ServiceName,
	})
	if err != nil {
		logger.Fatal("order service", zap.Error(err))
	}

	router := httpx.NewRouter(logger.Named("http"))
	h := &httpx.Handler{
		Orders:        svc,
		Redis:         rdb,
		WebhookSecret: cfg.StripeWebhookSecret,
		FrontendURL:   cfg.FrontendURL,
		BackendURL:    cfg.BackendURL,
		Logger:        logger.Named("http"),
	}
	h.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox, flush and close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
