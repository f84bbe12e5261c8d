package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/dustout/dustout-backend/internal/notifications"
	"github.com/dustout/dustout-backend/pkg/db"
	"github.com/dustout/dustout-backend/pkg/db/models"
	"github.com/dustout/dustout-backend/pkg/enums"
	pkgerrors "github.com/dustout/dustout-backend/pkg/errors"
	"github.com/dustout/dustout-backend/pkg/logger"
	"github.com/dustout/dustout-backend/pkg/mail"
)

// ServiceParams groups dependencies for the subscription lifecycle service.
type ServiceParams struct {
	Repo     Repository
	Gateway  StripeGateway
	Notifier *notifications.Notifier
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service applies subscription lifecycle events to local state. Every
// transition is a conditional write keyed by the Stripe subscription id;
// replays and out-of-order arrivals resolve to zero-row matches, which are
// logged and acknowledged rather than failed.
type Service struct {
	repo     Repository
	gateway  StripeGateway
	notifier *notifications.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions repo required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe gateway required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repo,
		gateway:  params.Gateway,
		notifier: params.Notifier,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// HandleSubscriptionCheckout creates the local row for a subscription-mode
// checkout, pulling billing-period fields from Stripe.
func (s *Service) HandleSubscriptionCheckout(ctx context.Context, session *stripe.CheckoutSession) error {
	if session == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session is required")
	}

	userID := session.Metadata["userId"]
	planID := session.Metadata["planId"]
	planName := session.Metadata["planName"]
	planTypeRaw := session.Metadata["planType"]
	userEmail := session.Metadata["userEmail"]
	if userID == "" || planID == "" || planName == "" || planTypeRaw == "" || userEmail == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription checkout metadata incomplete")
	}

	planType, err := enums.ParsePlanType(planTypeRaw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse planType metadata")
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session carries no subscription")
	}

	stripeSub, err := s.gateway.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve subscription from stripe")
	}

	plan, err := s.repo.FindPlanByID(ctx, planID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription plan")
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription plan %s not found", planID))
	}

	existing, err := s.repo.FindByStripeID(ctx, stripeSub.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription by stripe id")
	}
	if existing != nil {
		s.info(ctx, fmt.Sprintf("subscription %s already exists for %s, skipping", existing.ID, stripeSub.ID))
		return nil
	}

	periodStart, periodEnd, err := periodBounds(stripeSub)
	if err != nil {
		return err
	}
	startDate := unixTime(stripeSub.StartDate)
	expiryDate := expiryFor(stripeSub, periodEnd)

	customerID := ""
	if stripeSub.Customer != nil {
		customerID = stripeSub.Customer.ID
	}

	sub := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		PlanID:               planID,
		PlanName:             planDisplayName(planName, planType),
		PlanType:             planType,
		Status:               enums.SubscriptionStatusActive,
		Revenue:              plan.Price,
		Email:                userEmail,
		StripeSubscriptionID: stripeSub.ID,
		StripeCustomerID:     customerID,
		StartDate:            startDate,
		ExpiryDate:           expiryDate,
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodEnd,
		CancelAtPeriodEnd:    false,
	}

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		if db.IsUniqueViolation(err, "") {
			s.info(ctx, fmt.Sprintf("subscription for %s created concurrently, skipping", stripeSub.ID))
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}

	s.info(ctx, fmt.Sprintf("subscription %s created for stripe subscription %s", sub.ID, stripeSub.ID))

	name := customerName(session, "Valued Customer")
	s.notifier.SubscriptionConfirmed(ctx, mail.SubscriptionConfirmationParams{
		To:              userEmail,
		CustomerName:    name,
		SubscriptionID:  sub.ID.String(),
		PlanName:        planName,
		PlanType:        planType.String(),
		Price:           plan.Price,
		BillingCycle:    "monthly",
		StartDate:       startDate.Format(time.RFC3339),
		NextBillingDate: expiryDate.Format(time.RFC3339),
		Features:        plan.Features,
	})
	s.notifier.SubscriptionAdminAlert(ctx, mail.SubscriptionAdminParams{
		CustomerName:   customerName(session, "Unknown"),
		CustomerEmail:  userEmail,
		SubscriptionID: sub.ID.String(),
		PlanName:       planName,
		Price:          plan.Price,
		Action:         "created",
		ActionDate:     startDate.Format(time.RFC3339),
	})

	return nil
}

// HandleActivation processes customer.subscription.created. Upgrade and
// downgrade rows already exist by the time this fires; the metadata flags
// set by the change-plan flow decide which conditional update applies.
// Without a flag this is a regular new-signup activation.
func (s *Service) HandleActivation(ctx context.Context, sub *stripe.Subscription) error {
	if sub == nil || sub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription event carries no id")
	}

	periodStart, periodEnd, err := periodBounds(sub)
	if err != nil {
		return err
	}
	startDate := unixTime(sub.StartDate)

	var (
		matched int64
		kind    string
	)
	switch {
	case sub.Metadata["isUpgrade"] == "true":
		kind = "upgrade"
		matched, err = s.repo.ActivateByStripeID(ctx, sub.ID, PeriodUpdate{
			StartDate:          startDate,
			ExpiryDate:         expiryFor(sub, periodEnd),
			CurrentPeriodStart: periodStart,
			CurrentPeriodEnd:   periodEnd,
		})
	case sub.Metadata["isDowngrade"] == "true":
		kind = "downgrade"
		// One billing cycle from the activation start, with period bounds
		// forced to match, regardless of the period end Stripe reports.
		expiry := downgradeExpiry(startDate)
		matched, err = s.repo.ActivatePendingByStripeID(ctx, sub.ID, PeriodUpdate{
			StartDate:          startDate,
			ExpiryDate:         expiry,
			CurrentPeriodStart: startDate,
			CurrentPeriodEnd:   expiry,
		})
	default:
		kind = "regular"
		matched, err = s.repo.ActivateByStripeID(ctx, sub.ID, PeriodUpdate{
			StartDate:          startDate,
			ExpiryDate:         expiryFor(sub, periodEnd),
			CurrentPeriodStart: periodStart,
			CurrentPeriodEnd:   periodEnd,
		})
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate subscription")
	}
	if matched == 0 {
		// The row may not exist yet due to event ordering. Expected race.
		s.warn(ctx, fmt.Sprintf("%s activation matched no subscription for %s", kind, sub.ID))
		return nil
	}

	s.info(ctx, fmt.Sprintf("%s activation applied for %s", kind, sub.ID))
	return nil
}

// HandleUpgradeSync processes customer.subscription.updated events stamped
// with upgrade metadata, mirroring Stripe's post-upgrade state locally.
func (s *Service) HandleUpgradeSync(ctx context.Context, sub *stripe.Subscription) error {
	if sub == nil || sub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription event carries no id")
	}

	planID := sub.Metadata["planId"]
	planName := sub.Metadata["planName"]
	planTypeRaw := sub.Metadata["planType"]
	if planID == "" || planName == "" || planTypeRaw == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "upgrade metadata incomplete")
	}
	planType, err := enums.ParsePlanType(planTypeRaw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse planType metadata")
	}

	periodStart, periodEnd, err := periodBounds(sub)
	if err != nil {
		return err
	}
	item := sub.Items.Data[0]
	if item.Price == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription item carries no price")
	}

	matched, err := s.repo.ApplyUpgradeByStripeID(ctx, sub.ID, PlanUpdate{
		PlanID:             planID,
		PlanName:           planDisplayName(planName, planType),
		PlanType:           planType,
		Revenue:            revenueFromUnitAmount(item.Price.UnitAmount),
		ExpiryDate:         expiryFor(sub, periodEnd),
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply subscription upgrade")
	}
	if matched == 0 {
		s.warn(ctx, fmt.Sprintf("upgrade sync matched no subscription for %s", sub.ID))
		return nil
	}

	s.info(ctx, fmt.Sprintf("upgrade sync applied for %s", sub.ID))
	return nil
}

// HandleUpgradePayment processes a completed upgrade checkout: the customer
// has already paid the full new price out-of-band, so the Stripe
// subscription is swapped to the new plan's price with no proration, and
// the local row follows Stripe's response.
func (s *Service) HandleUpgradePayment(ctx context.Context, session *stripe.CheckoutSession) error {
	if session == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session is required")
	}

	meta := session.Metadata
	currentSubID := meta["currentSubscriptionId"]
	newPlanID := meta["newPlanId"]
	newPlanName := meta["newPlanName"]
	newPlanTypeRaw := meta["newPlanType"]
	newPriceRaw := meta["newPrice"]
	userEmail := meta["userEmail"]
	if meta["userId"] == "" || currentSubID == "" || newPlanID == "" || newPlanName == "" ||
		newPlanTypeRaw == "" || newPriceRaw == "" || userEmail == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "upgrade payment metadata incomplete")
	}

	newPlanType, err := enums.ParsePlanType(newPlanTypeRaw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse newPlanType metadata")
	}
	newPrice, err := decimal.NewFromString(newPriceRaw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse newPrice metadata")
	}
	subID, err := uuid.Parse(currentSubID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse currentSubscriptionId metadata")
	}

	current, err := s.repo.FindByID(ctx, subID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
	}
	if current == nil || current.StripeSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription %s not found or missing stripe id", currentSubID))
	}

	newPlan, err := s.repo.FindPlanByID(ctx, newPlanID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup new subscription plan")
	}
	if newPlan == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription plan %s not found", newPlanID))
	}

	stripeSub, err := s.gateway.GetSubscription(ctx, current.StripeSubscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve subscription from stripe")
	}
	if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription has no billing items")
	}

	priceID, err := s.ensurePlanPrice(ctx, newPlanID, newPlanName, newPlanType, newPrice)
	if err != nil {
		return err
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(stripeSub.Items.Data[0].ID),
			Price: stripe.String(priceID),
		}},
		// The upgrade difference was charged through its own checkout.
		ProrationBehavior: stripe.String("none"),
	}
	params.AddMetadata("planId", newPlanID)
	params.AddMetadata("planName", newPlanName)
	params.AddMetadata("planType", newPlanType.String())
	params.AddMetadata("upgradedAt", s.now().UTC().Format(time.RFC3339))

	updated, err := s.gateway.UpdateSubscription(ctx, current.StripeSubscriptionID, params)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription in stripe")
	}

	periodStart, periodEnd, err := periodBounds(updated)
	if err != nil {
		return err
	}

	matched, err := s.repo.ApplyUpgradeByID(ctx, current.ID, PlanUpdate{
		PlanID:             newPlanID,
		PlanName:           planDisplayName(newPlanName, newPlanType),
		PlanType:           newPlanType,
		Revenue:            newPrice,
		ExpiryDate:         periodEnd,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply upgrade to subscription")
	}
	if matched == 0 {
		s.warn(ctx, fmt.Sprintf("upgrade payment matched no subscription for %s", current.ID))
		return nil
	}

	s.info(ctx, fmt.Sprintf("subscription %s upgraded to plan %s", current.ID, newPlanID))

	s.notifier.SubscriptionUpgraded(ctx, mail.SubscriptionUpgradeParams{
		To:              userEmail,
		CustomerName:    customerName(session, "Valued Customer"),
		SubscriptionID:  current.ID.String(),
		OldPlanName:     current.PlanName,
		NewPlanName:     planDisplayName(newPlanName, newPlanType),
		NewPrice:        newPrice,
		EffectiveDate:   s.now().UTC().Format(time.RFC3339),
		NextBillingDate: periodEnd.Format(time.RFC3339),
		Features:        newPlan.Features,
	})

	return nil
}

// ensurePlanPrice finds the Stripe product tagged with the plan id, creating
// product and price objects when they do not exist yet.
func (s *Service) ensurePlanPrice(ctx context.Context, planID, planName string, planType enums.PlanType, price decimal.Decimal) (string, error) {
	products, err := s.gateway.ListProducts(ctx)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stripe products")
	}

	var planProduct *stripe.Product
	for _, p := range products {
		if p.Metadata["planId"] == planID {
			planProduct = p
			break
		}
	}

	if planProduct == nil {
		params := &stripe.ProductParams{
			Name:        stripe.String(fmt.Sprintf("%s - %s", planName, titleCase(planType.String()))),
			Description: stripe.String(fmt.Sprintf("DustOut %s subscription plan", planType)),
		}
		params.AddMetadata("planId", planID)
		params.AddMetadata("planType", planType.String())

		planProduct, err = s.gateway.CreateProduct(ctx, params)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe product")
		}
	}

	priceParams := &stripe.PriceParams{
		Product:    stripe.String(planProduct.ID),
		UnitAmount: stripe.Int64(price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()),
		Currency:   stripe.String(string(stripe.CurrencyGBP)),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String("month"),
		},
	}
	priceParams.AddMetadata("planId", planID)
	priceParams.AddMetadata("planType", planType.String())

	newPrice, err := s.gateway.CreatePrice(ctx, priceParams)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe price")
	}
	return newPrice.ID, nil
}

// HandleCancellation processes customer.subscription.deleted. Cancellation
// is terminal; a replay matches zero rows and sends no further email.
func (s *Service) HandleCancellation(ctx context.Context, sub *stripe.Subscription) error {
	if sub == nil || sub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription event carries no id")
	}

	local, err := s.repo.FindByStripeID(ctx, sub.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription by stripe id")
	}
	if local == nil {
		s.warn(ctx, fmt.Sprintf("cancellation for unknown subscription %s", sub.ID))
		return nil
	}

	now := s.now().UTC()
	matched, err := s.repo.MarkCancelledByStripeID(ctx, sub.ID, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}
	if matched == 0 {
		s.info(ctx, fmt.Sprintf("subscription %s already cancelled, skipping", sub.ID))
		return nil
	}

	s.info(ctx, fmt.Sprintf("subscription %s cancelled", local.ID))

	endDate := unixTime(sub.StartDate)
	if sub.EndedAt > 0 {
		endDate = unixTime(sub.EndedAt)
	}
	name := local.Email
	if name == "" {
		name = "Customer"
	}
	s.notifier.SubscriptionCancelled(ctx, mail.SubscriptionCancellationParams{
		To:               local.Email,
		CustomerName:     name,
		SubscriptionID:   local.ID.String(),
		PlanName:         local.PlanName,
		CancellationDate: now.Format(time.RFC3339),
		EndDate:          endDate.Format(time.RFC3339),
	})
	s.notifier.SubscriptionAdminAlert(ctx, mail.SubscriptionAdminParams{
		CustomerName:   name,
		CustomerEmail:  local.Email,
		SubscriptionID: local.ID.String(),
		PlanName:       local.PlanName,
		Price:          local.Revenue,
		Action:         "cancelled",
		ActionDate:     now.Format(time.RFC3339),
	})

	return nil
}

// HandleInvoicePaid processes invoice.payment_succeeded, recovering a
// past_due subscription and extending its period end.
func (s *Service) HandleInvoicePaid(ctx context.Context, invoice *stripe.Invoice) error {
	subscriptionID, err := invoiceSubscriptionID(invoice)
	if err != nil {
		return err
	}

	matched, err := s.repo.MarkActiveFromInvoice(ctx, subscriptionID, unixTime(invoice.PeriodEnd))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply invoice payment")
	}
	if matched == 0 {
		s.warn(ctx, fmt.Sprintf("invoice payment matched no subscription for %s", subscriptionID))
		return nil
	}

	s.info(ctx, fmt.Sprintf("payment succeeded for subscription %s", subscriptionID))
	return nil
}

// HandleInvoiceFailed processes invoice.payment_failed, parking the
// subscription in past_due until a later charge succeeds.
func (s *Service) HandleInvoiceFailed(ctx context.Context, invoice *stripe.Invoice) error {
	subscriptionID, err := invoiceSubscriptionID(invoice)
	if err != nil {
		return err
	}

	matched, err := s.repo.MarkPastDueByStripeID(ctx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply invoice failure")
	}
	if matched == 0 {
		s.warn(ctx, fmt.Sprintf("invoice failure matched no subscription for %s", subscriptionID))
		return nil
	}

	s.info(ctx, fmt.Sprintf("payment failed for subscription %s, marked past_due", subscriptionID))
	return nil
}

// HandleSetupCompleted processes a setup-mode checkout by promoting the
// collected payment method to the customer default in Stripe.
func (s *Service) HandleSetupCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	if session == nil || session.SetupIntent == nil || session.SetupIntent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session carries no setup intent")
	}

	intent, err := s.gateway.GetSetupIntent(ctx, session.SetupIntent.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve setup intent from stripe")
	}

	if intent.PaymentMethod == nil || session.Customer == nil || session.Customer.ID == "" {
		s.warn(ctx, fmt.Sprintf("setup intent %s has no payment method or customer, nothing to do", intent.ID))
		return nil
	}

	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(intent.PaymentMethod.ID),
		},
	}
	if _, err := s.gateway.UpdateCustomer(ctx, session.Customer.ID, params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update customer default payment method")
	}

	s.info(ctx, fmt.Sprintf("customer %s default payment method updated", session.Customer.ID))

	if session.Metadata["pendingPlanChange"] == "true" {
		// The change-plan flow retries from the front end once the new
		// payment method is in place.
		s.info(ctx, fmt.Sprintf("payment method ready for pending plan change to %s", session.Metadata["newPlanId"]))
	}
	return nil
}

func customerName(session *stripe.CheckoutSession, fallback string) string {
	if session.CustomerDetails != nil && strings.TrimSpace(session.CustomerDetails.Name) != "" {
		return session.CustomerDetails.Name
	}
	return fallback
}

func titleCase(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
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
