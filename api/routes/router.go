package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaelolivas/showbill-backend/api/controllers"
	webhookcontrollers "github.com/rafaelolivas/showbill-backend/api/controllers/webhooks"
	"github.com/rafaelolivas/showbill-backend/api/middleware"
	checkoutsvc "github.com/rafaelolivas/showbill-backend/internal/checkout"
	"github.com/rafaelolivas/showbill-backend/internal/connections"
	"github.com/rafaelolivas/showbill-backend/internal/settlement"
	"github.com/rafaelolivas/showbill-backend/internal/tokens"
	"github.com/rafaelolivas/showbill-backend/pkg/config"
	"github.com/rafaelolivas/showbill-backend/pkg/db"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	tokensService *tokens.Service,
	connectionsService *connections.Service,
	checkoutService *checkoutsvc.Service,
	settlementService *settlement.Service,
	metricsRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/sumup", webhookcontrollers.SumUpWebhook(settlementService, logg))
	})

	r.Route("/api/v1/connect", func(r chi.Router) {
		r.Get("/", controllers.ConnectStart(tokensService, logg))
		r.Get("/callback", controllers.ConnectCallback(tokensService, logg))
		r.Get("/status", controllers.ConnectStatus(connectionsService, logg))
		r.Delete("/", controllers.ConnectDisconnect(connectionsService, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/{id}/checkout", controllers.CreateCheckout(checkoutService, logg))
	})

	r.Route("/api/v1/checkouts", func(r chi.Router) {
		r.Get("/{id}", controllers.GetCheckout(checkoutService, logg))
	})

	return r
}
