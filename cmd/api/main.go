package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rafaelolivas/showbill-backend/api/routes"
	"github.com/rafaelolivas/showbill-backend/internal/checkout"
	"github.com/rafaelolivas/showbill-backend/internal/connections"
	"github.com/rafaelolivas/showbill-backend/internal/fulfillment"
	"github.com/rafaelolivas/showbill-backend/internal/orders"
	"github.com/rafaelolivas/showbill-backend/internal/routing"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

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

	routingEngine, err := routing.NewEngine(cfg.Payments)
	if err != nil {
		logg.Error(context.Background(), "failed to create routing engine", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		DB:        dbClient,
		Repo:      checkoutRepo,
		Orders:    ordersRepo,
		Tokens:    tokensService,
		Router:    routingEngine,
		Processor: sumupClient,
		SumUp:     cfg.SumUp,
		Payments:  cfg.Payments,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
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
		Metrics:      metrics.NewSettlementMetrics(registry),
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			tokensService,
			connectionsService,
			checkoutService,
			settlementService,
			registry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
