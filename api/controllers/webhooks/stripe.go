package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/dustout/dustout-backend/api/responses"
	stripewebhook "github.com/dustout/dustout-backend/internal/webhooks/stripe"
	pkgerrors "github.com/dustout/dustout-backend/pkg/errors"
	"github.com/dustout/dustout-backend/pkg/logger"
	"github.com/dustout/dustout-backend/pkg/metrics"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error)
}

// StripeClient is the signing surface the controller needs.
type StripeClient interface {
	SigningSecret() string
}

// StripeWebhook receives signed Stripe events. Signature failures are the
// only client errors; everything the dispatcher understood or deliberately
// dropped is acknowledged with 200 so Stripe stops redelivering it.
func StripeWebhook(svc StripeWebhookService, client StripeClient, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			m.IncEvent("unknown", metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			m.IncEvent("unknown", metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature"))
			return
		}

		if logg != nil {
			ctx = logg.WithEvent(ctx, event.ID, string(event.Type))
		}

		start := time.Now()
		outcome, err := svc.HandleEvent(ctx, &event)
		m.ObserveDuration(string(event.Type), time.Since(start))
		m.IncEvent(string(event.Type), string(outcome))

		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s %s", event.ID, outcome))
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
