package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/dustout/dustout-backend/pkg/errors"
	"github.com/dustout/dustout-backend/pkg/logger"
)

type bookingHandler interface {
	HandleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error
}

type subscriptionHandler interface {
	HandleSubscriptionCheckout(ctx context.Context, session *stripe.CheckoutSession) error
	HandleActivation(ctx context.Context, sub *stripe.Subscription) error
	HandleUpgradeSync(ctx context.Context, sub *stripe.Subscription) error
	HandleUpgradePayment(ctx context.Context, session *stripe.CheckoutSession) error
	HandleCancellation(ctx context.Context, sub *stripe.Subscription) error
	HandleInvoicePaid(ctx context.Context, invoice *stripe.Invoice) error
	HandleInvoiceFailed(ctx context.Context, invoice *stripe.Invoice) error
	HandleSetupCompleted(ctx context.Context, session *stripe.CheckoutSession) error
}

type idempotencyGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Outcome classifies what the dispatcher did with an event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDropped   Outcome = "dropped"
	OutcomeFailed    Outcome = "failed"
)

// ServiceParams groups dispatcher dependencies.
type ServiceParams struct {
	Bookings      bookingHandler
	Subscriptions subscriptionHandler
	Guard         idempotencyGuard
	Logger        *logger.Logger
}

// Service routes verified Stripe events to the reconcilers. Events it does
// not recognize, and events dropped for bad metadata, are acknowledged so
// Stripe stops redelivering them; only store or gateway failures propagate
// and turn into a retryable response.
type Service struct {
	bookings      bookingHandler
	subscriptions subscriptionHandler
	guard         idempotencyGuard
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Bookings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "bookings handler required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions handler required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	return &Service{
		bookings:      params.Bookings,
		subscriptions: params.Subscriptions,
		guard:         params.Guard,
		logg:          params.Logger,
	}, nil
}

// HandleEvent applies one verified event. The returned outcome feeds metrics;
// the returned error is non-nil only for failures worth a Stripe retry.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	duplicate, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check")
	}
	if duplicate {
		s.info(ctx, fmt.Sprintf("event %s already seen, skipping", event.ID))
		return OutcomeSkipped, nil
	}

	err = s.dispatch(ctx, event)
	if err == nil {
		return OutcomeProcessed, nil
	}

	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound:
		// Stale or incomplete metadata; a Stripe retry cannot fix it.
		s.warn(ctx, fmt.Sprintf("event %s dropped: %v", event.ID, err))
		return OutcomeDropped, nil
	default:
		if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
			s.warn(ctx, fmt.Sprintf("unmark event %s: %v", event.ID, delErr))
		}
		return OutcomeFailed, err
	}
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		switch {
		case session.Mode == stripe.CheckoutSessionModeSubscription:
			return s.subscriptions.HandleSubscriptionCheckout(ctx, &session)
		case session.Mode == stripe.CheckoutSessionModeSetup:
			return s.subscriptions.HandleSetupCompleted(ctx, &session)
		case session.Metadata["isUpgrade"] == "true":
			return s.subscriptions.HandleUpgradePayment(ctx, &session)
		default:
			return s.bookings.HandleCheckoutCompleted(ctx, &session)
		}

	case stripe.EventTypeCustomerSubscriptionCreated:
		sub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.subscriptions.HandleActivation(ctx, sub)

	case stripe.EventTypeCustomerSubscriptionUpdated:
		sub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		if sub.Metadata["upgradedAt"] == "" {
			s.debug(ctx, fmt.Sprintf("subscription update for %s carries no upgrade metadata, ignoring", sub.ID))
			return nil
		}
		return s.subscriptions.HandleUpgradeSync(ctx, sub)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		sub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.subscriptions.HandleCancellation(ctx, sub)

	case stripe.EventTypeInvoicePaymentSucceeded:
		invoice, err := decodeInvoice(event)
		if err != nil {
			return err
		}
		return s.subscriptions.HandleInvoicePaid(ctx, invoice)

	case stripe.EventTypeInvoicePaymentFailed:
		invoice, err := decodeInvoice(event)
		if err != nil {
			return err
		}
		return s.subscriptions.HandleInvoiceFailed(ctx, invoice)

	default:
		s.debug(ctx, fmt.Sprintf("unhandled event type %s, acknowledging", event.Type))
		return nil
	}
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	return &sub, nil
}

func decodeInvoice(event *stripe.Event) (*stripe.Invoice, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
	}
	if invoice.Metadata == nil {
		invoice.Metadata = map[string]string{}
	}
	if invoice.Metadata["subscription_id"] == "" {
		if id := event.GetObjectValue("subscription"); id != "" {
			invoice.Metadata["subscription_id"] = id
		}
	}
	return &invoice, nil
}

func (s *Service) debug(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Debug(ctx, msg)
	}
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}
