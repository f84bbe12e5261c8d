package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dustout/dustout-backend/api/controllers"
	webhookcontrollers "github.com/dustout/dustout-backend/api/controllers/webhooks"
	"github.com/dustout/dustout-backend/api/middleware"
	"github.com/dustout/dustout-backend/pkg/config"
	"github.com/dustout/dustout-backend/pkg/logger"
	"github.com/dustout/dustout-backend/pkg/metrics"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups everything the HTTP surface depends on.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             pinger
	Redis          pinger
	StripeClient   webhookcontrollers.StripeClient
	WebhookService webhookcontrollers.StripeWebhookService
	WebhookMetrics *metrics.WebhookMetrics
	Registry       *prometheus.Registry
}

func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(params.Logger),
		middleware.RequestID(params.Logger),
		middleware.Logging(params.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(params.Config))
		r.Get("/ready", controllers.HealthReady(params.Config, params.Logger, params.DB, params.Redis))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(
			params.WebhookService,
			params.StripeClient,
			params.WebhookMetrics,
			params.Logger,
		))
	})

	return r
}
