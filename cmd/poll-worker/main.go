package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafaelolivas/showbill-backend/internal/checkout"
	"github.com/rafaelolivas/showbill-backend/internal/connections"
	"github.com/rafaelolivas/showbill-backend/internal/fulfillment"
	"github.com/rafaelolivas/showbill-backend/internal/orders"
	"github.com/rafaelolivas/showbill-backend/internal/poller"
	"github.com/rafaelolivas/showbill-backend/internal/settlement"
	"github.com/rafaelolivas/showbill-backend/internal/tokens"
	"github.com/rafaelolivas/showbill-backend/pkg/config"
	"github.com/rafaelolivas/showbill-backend/pkg/db"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/metrics"
	"github.com/rafaelolivas/showbill-backend/pkg/migrate"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox"
	"github.com/rafaelolivas/showbill-backend/pkg/redis"
	"github.com/rafaelolivas/showbill-backend/pkg/sumup"
)

const lockKeyFormat = "sb:poll-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "poll-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "poll-worker"

	logg = logger.New(logger.Options{
		ServiceName: "poll-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sumupClient, err := sumup.NewClient(cfg.SumUp, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create sumup client", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	connectionsRepo := connections.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	checkoutRepo := checkout.NewRepository(dbClient.DB())

	connectionsService, err := connections.NewService(connections.ServiceParams{
		DB:     dbClient,
		Repo:   connectionsRepo,
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create connections service", err)
		os.Exit(1)
	}

	tokensService, err := tokens.NewService(tokens.ServiceParams{
		DB:          dbClient,
		Repo:        connectionsRepo,
		Connections: connectionsService,
		Processor:   sumupClient,
		Nonces:      redisClient,
		Payments:    cfg.Payments,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create tokens service", err)
		os.Exit(1)
	}

	fulfillmentService, err := fulfillment.NewService(fulfillment.ServiceParams{
		Repo:   fulfillment.NewRepository(dbClient.DB()),
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		DB:           dbClient,
		Checkouts:    checkoutRepo,
		Orders:       ordersRepo,
		Transactions: settlement.NewRepository(dbClient.DB()),
		Fulfillment:  fulfillmentService,
		Outbox:       outboxService,
		Metrics:      metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	pollJob, err := poller.NewCheckoutPollJob(poller.CheckoutPollJobParams{
		Checkouts:  checkoutRepo,
		Orders:     ordersRepo,
		Settlement: settlementService,
		Processor:  sumupClient,
		Tokens:     tokensService,
		Payments:   cfg.Payments,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout poll job", err)
		os.Exit(1)
	}

	lock, err := poller.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create poll lock", err)
		os.Exit(1)
	}

	service, err := poller.NewService(poller.ServiceParams{
		Logger:   logg,
		Registry: poller.NewRegistry(pollJob),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Payments.PollInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create poll service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting poll worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "poll worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "poll worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
