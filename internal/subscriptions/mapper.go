package subscriptions

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/dustout/dustout-backend/pkg/enums"
	pkgerrors "github.com/dustout/dustout-backend/pkg/errors"
)

// unixTime converts a Stripe epoch-seconds timestamp to UTC.
func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// periodBounds reads the current billing period off the subscription's
// first item. Stripe moved the period fields from the subscription object
// onto its items; single-item subscriptions are the only shape the
// checkout flow creates.
func periodBounds(sub *stripe.Subscription) (time.Time, time.Time, error) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "subscription has no billing items")
	}
	item := sub.Items.Data[0]
	return unixTime(item.CurrentPeriodStart), unixTime(item.CurrentPeriodEnd), nil
}

// expiryFor picks the subscription's expiry: the explicit end timestamp
// when Stripe reports one, otherwise the current period end.
func expiryFor(sub *stripe.Subscription, periodEnd time.Time) time.Time {
	if sub.EndedAt > 0 {
		return unixTime(sub.EndedAt)
	}
	return periodEnd
}

// downgradeExpiry is exactly one billing cycle after the activation start.
// Intentionally decoupled from the period end Stripe reports for the row.
func downgradeExpiry(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// planDisplayName is the snapshot stored on the subscription row.
func planDisplayName(name string, planType enums.PlanType) string {
	return fmt.Sprintf("%s (%s)", name, planType)
}

// revenueFromUnitAmount converts Stripe's minor-unit price to pounds.
func revenueFromUnitAmount(unitAmount int64) decimal.Decimal {
	return decimal.NewFromInt(unitAmount).Div(decimal.NewFromInt(100))
}

// invoiceSubscriptionID extracts the subscription identity the billing flow
// stamps onto invoices. An invoice without it cannot be applied.
func invoiceSubscriptionID(invoice *stripe.Invoice) (string, error) {
	if invoice == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invoice is required")
	}
	if id := invoice.Metadata["subscription_id"]; id != "" {
		return id, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "invoice carries no subscription id")
}
