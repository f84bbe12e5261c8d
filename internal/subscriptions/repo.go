package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dustout/dustout-backend/pkg/db/models"
	"github.com/dustout/dustout-backend/pkg/enums"
)

// PeriodUpdate carries the date fields an activation refreshes.
type PeriodUpdate struct {
	StartDate          time.Time
	ExpiryDate         time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// PlanUpdate carries the plan fields an upgrade replaces.
type PlanUpdate struct {
	PlanID             string
	PlanName           string
	PlanType           enums.PlanType
	Revenue            decimal.Decimal
	ExpiryDate         time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// Repository handles subscription persistence. Lifecycle transitions are
// conditional single-row updates keyed by the Stripe subscription id;
// every one of them excludes cancelled rows so a cancelled subscription
// can never be resurrected by a late or replayed event. Callers get the
// matched row count back and decide what a zero-row match means.
type Repository interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error)
	FindPlanByID(ctx context.Context, planID string) (*models.SubscriptionPlan, error)
	ActivateByStripeID(ctx context.Context, stripeID string, period PeriodUpdate) (int64, error)
	ActivatePendingByStripeID(ctx context.Context, stripeID string, period PeriodUpdate) (int64, error)
	ApplyUpgradeByStripeID(ctx context.Context, stripeID string, plan PlanUpdate) (int64, error)
	ApplyUpgradeByID(ctx context.Context, id uuid.UUID, plan PlanUpdate) (int64, error)
	MarkCancelledByStripeID(ctx context.Context, stripeID string, cancelledAt time.Time) (int64, error)
	MarkActiveFromInvoice(ctx context.Context, stripeID string, periodEnd time.Time) (int64, error)
	MarkPastDueByStripeID(ctx context.Context, stripeID string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a subscriptions repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindPlanByID(ctx context.Context, planID string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("id = ?", planID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// ActivateByStripeID marks a subscription active and refreshes its dates.
func (r *repository) ActivateByStripeID(ctx context.Context, stripeID string, period PeriodUpdate) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status <> ?", stripeID, enums.SubscriptionStatusCancelled).
		Updates(map[string]any{
			"status":               enums.SubscriptionStatusActive,
			"start_date":           period.StartDate,
			"expiry_date":          period.ExpiryDate,
			"current_period_start": period.CurrentPeriodStart,
			"current_period_end":   period.CurrentPeriodEnd,
		})
	return result.RowsAffected, result.Error
}

// ActivatePendingByStripeID is the downgrade activation: it only matches a
// row still waiting in pending.
func (r *repository) ActivatePendingByStripeID(ctx context.Context, stripeID string, period PeriodUpdate) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status = ?", stripeID, enums.SubscriptionStatusPending).
		Updates(map[string]any{
			"status":               enums.SubscriptionStatusActive,
			"start_date":           period.StartDate,
			"expiry_date":          period.ExpiryDate,
			"current_period_start": period.CurrentPeriodStart,
			"current_period_end":   period.CurrentPeriodEnd,
		})
	return result.RowsAffected, result.Error
}

// ApplyUpgradeByStripeID replaces the plan snapshot after Stripe confirms
// an upgraded subscription, clearing any pending cancellation.
func (r *repository) ApplyUpgradeByStripeID(ctx context.Context, stripeID string, plan PlanUpdate) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status <> ?", stripeID, enums.SubscriptionStatusCancelled).
		Updates(upgradeColumns(plan))
	return result.RowsAffected, result.Error
}

// ApplyUpgradeByID is the upgrade-payment variant keyed by the local row id.
func (r *repository) ApplyUpgradeByID(ctx context.Context, id uuid.UUID, plan PlanUpdate) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status <> ?", id, enums.SubscriptionStatusCancelled).
		Updates(upgradeColumns(plan))
	return result.RowsAffected, result.Error
}

func upgradeColumns(plan PlanUpdate) map[string]any {
	return map[string]any{
		"plan_id":              plan.PlanID,
		"plan_name":            plan.PlanName,
		"plan_type":            plan.PlanType,
		"revenue":              plan.Revenue,
		"status":               enums.SubscriptionStatusActive,
		"expiry_date":          plan.ExpiryDate,
		"current_period_start": plan.CurrentPeriodStart,
		"current_period_end":   plan.CurrentPeriodEnd,
		"cancel_at_period_end": false,
	}
}

// MarkCancelledByStripeID is terminal: a row already cancelled is left alone.
func (r *repository) MarkCancelledByStripeID(ctx context.Context, stripeID string, cancelledAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status <> ?", stripeID, enums.SubscriptionStatusCancelled).
		Updates(map[string]any{
			"status":               enums.SubscriptionStatusCancelled,
			"cancelled_at":         cancelledAt,
			"cancel_at_period_end": true,
		})
	return result.RowsAffected, result.Error
}

func (r *repository) MarkActiveFromInvoice(ctx context.Context, stripeID string, periodEnd time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status <> ?", stripeID, enums.SubscriptionStatusCancelled).
		Updates(map[string]any{
			"status":             enums.SubscriptionStatusActive,
			"expiry_date":        periodEnd,
			"current_period_end": periodEnd,
		})
	return result.RowsAffected, result.Error
}

func (r *repository) MarkPastDueByStripeID(ctx context.Context, stripeID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status <> ?", stripeID, enums.SubscriptionStatusCancelled).
		Update("status", enums.SubscriptionStatusPastDue)
	return result.RowsAffected, result.Error
}
